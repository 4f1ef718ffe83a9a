package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/conversant/backend/internal/app"
	"github.com/conversant/backend/internal/platform/logger"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(log)
	if err != nil {
		log.Error("Failed to init app", "error", err)
		log.Sync()
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Shutting down", "signal", sig.String())
		a.Close()
		os.Exit(0)
	}()

	addr := ":" + a.Cfg.Port
	log.Info("Starting HTTP server", "addr", addr)
	if err := a.Run(addr); err != nil {
		log.Error("HTTP server stopped", "error", err)
	}
}
