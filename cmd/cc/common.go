package main

import (
	"fmt"

	"github.com/zulandar/safetycar/internal/config"
	"github.com/zulandar/safetycar/internal/db"
	"gorm.io/gorm"
)

// connectFromConfig loads config and, if history persistence is configured,
// connects to it. A nil *gorm.DB is valid: every package consuming it treats
// persistence as best-effort (spec.md §9).
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.History.Enabled {
		return cfg, nil, nil
	}

	gormDB, err := db.Connect(cfg.History.Host, cfg.History.Port, cfg.History.Database)
	if err != nil {
		return cfg, nil, fmt.Errorf("connect to %s: %w", cfg.History.Database, err)
	}
	return cfg, gormDB, nil
}
