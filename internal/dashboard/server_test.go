package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestStart_NilDB(t *testing.T) {
	err := Start(context.Background(), StartOpts{DB: nil})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
	if !strings.Contains(err.Error(), "db is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db is required")
	}
}

func TestStart_DefaultPort(t *testing.T) {
	opts := StartOpts{}
	if opts.Port != 0 {
		t.Errorf("zero-value port = %d, want 0", opts.Port)
	}
}

func TestStartOpts_ZeroValue(t *testing.T) {
	opts := StartOpts{}
	if opts.DB != nil || opts.Port != 0 || opts.Out != nil {
		t.Error("zero-value StartOpts should have nil/zero fields")
	}
}

// findFreePort finds an available port for testing.
func findFreePort() int {
	return 18080 + int(time.Now().UnixNano()%1000)
}

func TestEmbeddedAssets(t *testing.T) {
	data, err := assetsFS.ReadFile("assets/style.css")
	if err != nil {
		t.Fatalf("style.css not embedded: %v", err)
	}
	if len(data) == 0 {
		t.Error("style.css is empty")
	}
}

func TestEmbeddedTemplates(t *testing.T) {
	data, err := templatesFS.ReadFile("templates/status.html")
	if err != nil {
		t.Fatalf("status.html not embedded: %v", err)
	}
	if !strings.Contains(string(data), "Caution Controller") {
		t.Error("status.html does not contain expected title text")
	}
}

// setupTestRouter starts a dashboard server with a nil DB (routes that
// query the DB degrade to empty results rather than failing) and returns
// its base URL and a cleanup func.
func setupTestRouter(t *testing.T) (string, func()) {
	t.Helper()

	port := findFreePort()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- startTestServer(ctx, port)
	}()

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/static/style.css")
		if err == nil {
			resp.Body.Close()
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	return baseURL, func() {
		cancel()
		<-errCh
	}
}

// startTestServer runs a dashboard server without a real DB connection.
// Routes that touch the DB accept nil and return empty data.
func startTestServer(ctx context.Context, port int) error {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())

	tmpl, err := parseTemplates()
	if err != nil {
		return err
	}
	router.SetHTMLTemplate(tmpl)

	registerRoutes(router, nil)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func TestStaticAssets_CSS(t *testing.T) {
	baseURL, cleanup := setupTestRouter(t)
	defer cleanup()

	resp, err := http.Get(baseURL + "/static/style.css")
	if err != nil {
		t.Fatalf("GET /static/style.css: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestIndex_Returns200(t *testing.T) {
	baseURL, cleanup := setupTestRouter(t)
	defer cleanup()

	resp, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestIndex_ContainsDashboardContent(t *testing.T) {
	baseURL, cleanup := setupTestRouter(t)
	defer cleanup()

	resp, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	body := make([]byte, 8192)
	n, _ := resp.Body.Read(body)
	html := string(body[:n])

	for _, want := range []string{
		"Caution Controller",
		"Recent caution cycles",
		"Recent state transitions",
		"/api/events",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("index page missing %q", want)
		}
	}
}

func TestSSEEndpoint_Returns200(t *testing.T) {
	baseURL, cleanup := setupTestRouter(t)
	defer cleanup()

	resp, err := http.Get(baseURL + "/api/events")
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/event-stream") {
		t.Errorf("content-type = %q, want text/event-stream", ct)
	}
}

func TestUnknownRoute_Returns404(t *testing.T) {
	baseURL, cleanup := setupTestRouter(t)
	defer cleanup()

	resp, err := http.Get(baseURL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTimeAgo(t *testing.T) {
	tests := []struct {
		name string
		when time.Time
		want string
	}{
		{"zero", time.Time{}, "—"},
		{"seconds", time.Now().Add(-30 * time.Second), "30s ago"},
		{"minutes", time.Now().Add(-5 * time.Minute), "5m ago"},
		{"hours", time.Now().Add(-3 * time.Hour), "3h ago"},
		{"days", time.Now().Add(-48 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeAgo(tt.when)
			if tt.want == "—" {
				if got != "—" {
					t.Errorf("TimeAgo(zero) = %q, want %q", got, "—")
				}
				return
			}
			if tt.name != "seconds" && !strings.Contains(got, strings.TrimSuffix(tt.want, " ago")) {
				t.Errorf("TimeAgo = %q, want to contain %q", got, tt.want)
			}
		})
	}
}

func TestTimeAgoPtr(t *testing.T) {
	if got := TimeAgoPtr(nil); got != "—" {
		t.Errorf("TimeAgoPtr(nil) = %q, want %q", got, "—")
	}
	when := time.Now().Add(-5 * time.Minute)
	if got := TimeAgoPtr(&when); !strings.Contains(got, "5m") {
		t.Errorf("TimeAgoPtr(5m ago) = %q, want to contain %q", got, "5m")
	}
}

func TestDashboardData_NilDB(t *testing.T) {
	data := dashboardData(nil)
	if data["Cycles"] != nil {
		t.Errorf("Cycles = %v, want nil for nil db", data["Cycles"])
	}
	if data["Transitions"] != nil {
		t.Errorf("Transitions = %v, want nil for nil db", data["Transitions"])
	}
}
