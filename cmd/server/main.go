package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anypay-backend/internal/app"
	"anypay-backend/internal/config"
	"anypay-backend/internal/db"
	"anypay-backend/internal/router"
)

func main() {
	if err := config.LoadConfig(""); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if config.AppConfig.Database.Driver != "memory" {
		db.InitDB()
	}

	container, err := app.InitializeContainer()
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	container.ReconcileService.Start()

	r := router.SetupRouter(container.RelayerHandler(), container.AdminHandler(), container.SignerClient)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Server.Host, config.AppConfig.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Printf("🌐 Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Server shutdown error: %v", err)
	}

	container.Shutdown()
}
