// gantryd serves the Gantry host manager behind its HTTP control plane.
// Usage: go run ./cmd/gantryd
package main

import (
	"log"
	"os"

	"github.com/seantiz/gantry/internal/api"
	"github.com/seantiz/gantry/internal/config"
	"github.com/seantiz/gantry/internal/device"
	"github.com/seantiz/gantry/internal/runtime"
	"github.com/seantiz/gantry/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	deviceCfgs, err := config.LoadDevices(cfg.DevicesPath)
	if err != nil {
		log.Fatalf("failed to load device configs: %v", err)
	}

	pool, err := device.FromConfigs(deviceCfgs)
	if err != nil {
		log.Fatalf("failed to build device pool: %v", err)
	}
	logger.Info("device pool ready", "devices", pool.Names())

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	hm := runtime.NewHostManager(pool, logger)
	defer hm.Close()

	srv := api.NewServer(cfg.ListenAddr, db, hm, logger)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
