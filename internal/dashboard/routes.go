package dashboard

import (
	"io/fs"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB) {
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))

	router.GET("/", handleIndex(db))
	router.GET("/api/events", handleSSE(db))
}

func handleIndex(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "status.html", dashboardData(db))
	}
}

// dashboardData gathers the data the status page and its SSE refresh need.
func dashboardData(db *gorm.DB) gin.H {
	if db == nil {
		return gin.H{"Cycles": nil, "Transitions": nil}
	}

	cycles, err := RecentCycles(db, 20)
	if err != nil {
		log.Printf("dashboard: cycles query: %v", err)
	}
	transitions, err := RecentTransitions(db, 20)
	if err != nil {
		log.Printf("dashboard: transitions query: %v", err)
	}

	return gin.H{"Cycles": cycles, "Transitions": transitions}
}
