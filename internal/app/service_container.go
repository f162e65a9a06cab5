package app

import (
	"fmt"
	"log"
	"sync"

	"anypay-backend/internal/clients"
	"anypay-backend/internal/config"
	"anypay-backend/internal/db"
	"anypay-backend/internal/events"
	"anypay-backend/internal/handlers"
	"anypay-backend/internal/repository"
	"anypay-backend/internal/services"
)

// ServiceContainer wires clients, repositories and services for the process
type ServiceContainer struct {
	// Repositories
	DepositRepo repository.DepositRecordRepository

	// External clients
	OneClickClient *clients.OneClickClient
	SignerClient   *clients.SignerClient
	NATSClient     *clients.NATSClient

	// Services
	EventPublisher   *events.Publisher
	PaymentService   *services.PaymentService
	PaymentSubmitter *services.PaymentSubmitter
	RegistrarService *services.RegistrarService
	DepositService   *services.DepositService
	ReconcileService *services.ReconcileService
	RefundService    *services.RefundService
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container once per process
func InitializeContainer() (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 Initializing Service Container...")

		if config.AppConfig == nil {
			initErr = fmt.Errorf("config not loaded")
			return
		}
		cfg := config.AppConfig

		container := &ServiceContainer{}

		// 1. Repository: durable Postgres by default, in-memory for local runs
		switch cfg.Database.Driver {
		case "memory":
			container.DepositRepo = repository.NewMemoryDepositRecordRepository()
			log.Println("⚠️ Using in-memory record store; records do not survive restarts")
		default:
			if db.DB == nil {
				initErr = fmt.Errorf("database not initialized")
				return
			}
			container.DepositRepo = repository.NewDepositRecordRepository(db.DB)
		}

		// 2. External clients
		container.OneClickClient = clients.NewOneClickClient(cfg.OneClick)
		container.SignerClient = clients.NewSignerClient(cfg.Signer)

		if cfg.NATS.URL != "" {
			natsClient, err := clients.NewNATSClient(cfg.NATS)
			if err != nil {
				log.Printf("⚠️ NATS unavailable, events disabled: %v", err)
			} else {
				container.NATSClient = natsClient
			}
		}
		container.EventPublisher = events.NewPublisher(container.NATSClient)

		// 3. Services
		container.PaymentService = services.NewPaymentService(container.SignerClient)
		container.PaymentSubmitter = services.NewPaymentSubmitter()
		container.RegistrarService = services.NewRegistrarService(
			container.DepositRepo, container.SignerClient, container.OneClickClient, container.EventPublisher)
		container.DepositService = services.NewDepositService(
			container.DepositRepo, container.OneClickClient, container.OneClickClient, container.EventPublisher)
		container.ReconcileService = services.NewReconcileService(
			container.DepositRepo, container.OneClickClient, container.PaymentService,
			container.PaymentSubmitter, container.EventPublisher, cfg.Reconcile)
		container.RefundService = services.NewRefundService(
			container.DepositRepo, container.OneClickClient, container.PaymentService, container.EventPublisher)

		Container = container
		log.Println("✅ Service Container initialized")
	})

	if initErr != nil {
		return nil, initErr
	}
	return Container, nil
}

// RelayerHandler builds the public API handler over the container's services
func (c *ServiceContainer) RelayerHandler() *handlers.RelayerHandler {
	return handlers.NewRelayerHandler(c.RegistrarService, c.DepositService, c.ReconcileService, c.RefundService, c.OneClickClient)
}

// AdminHandler builds the operator API handler
func (c *ServiceContainer) AdminHandler() *handlers.AdminHandler {
	return handlers.NewAdminHandler(c.DepositService, c.ReconcileService)
}

// Shutdown stops background work and closes external connections
func (c *ServiceContainer) Shutdown() {
	if c.ReconcileService != nil {
		c.ReconcileService.Stop()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
	log.Println("👋 Service Container shut down")
}
