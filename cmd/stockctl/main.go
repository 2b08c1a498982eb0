// Command stockctl is the operator CLI of the stock sync engine.
package main

import (
	"log"
	"os"

	"stock-sync/config"
	"stock-sync/internal/app"
	"stock-sync/internal/util"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	if err := newRootCmd(cfg, app.New).Execute(); err != nil {
		os.Exit(1)
	}
}
