package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/magebridge/connector/internal/application/gateway"
	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/internal/infrastructure/config"
	"github.com/magebridge/connector/internal/infrastructure/eav"
	"github.com/magebridge/connector/internal/infrastructure/logger"
	"github.com/magebridge/connector/internal/infrastructure/magento"
	"github.com/magebridge/connector/internal/infrastructure/persistence"
	"github.com/magebridge/connector/internal/infrastructure/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting connector",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.Int("nodes", len(cfg.Nodes)),
	)

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))

	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Canonical store connected")

	entityStore := persistence.NewGormEntityStore(db.DB)
	checkpoints := persistence.NewGormCheckpointStore(db.DB, cfg.Scheduler.Overlap, log)

	policy := eav.PolicyStrict
	if cfg.EAV.Policy == "lenient" {
		policy = eav.PolicyLenient
	}

	runners := make([]scheduler.NodeRunner, 0, len(cfg.Nodes))
	for i := range cfg.Nodes {
		node := cfg.Nodes[i].ToNode()
		if err := node.Validate(); err != nil {
			log.Fatal("Invalid node configuration", zap.String("node", node.Name), zap.Error(err))
		}

		client, err := magento.NewClient(node, log)
		if err != nil {
			log.Fatal("Failed to build API client", zap.String("node", node.Name), zap.Error(err))
		}

		var attrs gateway.AttributeStore
		if node.EAVDSN != "" {
			eavDB, err := gorm.Open(mysql.Open(node.EAVDSN), &gorm.Config{Logger: gormLog})
			if err != nil {
				log.Fatal("Failed to connect attribute store",
					zap.String("node", node.Name), zap.Error(err))
			}
			attrs = eav.NewStore(eavDB, nil, log, policy)
			log.Info("Attribute store connected", zap.String("node", node.Name))
		}

		deps := gateway.Deps{
			Client:      client,
			Attributes:  attrs,
			Store:       entityStore,
			Checkpoints: checkpoints,
			Logger:      log,
		}

		registry, err := buildRegistry(node, deps)
		if err != nil {
			log.Fatal("Failed to build gateways", zap.String("node", node.Name), zap.Error(err))
		}

		runners = append(runners, scheduler.NodeRunner{Node: node, Registry: registry})
	}

	trigger := scheduler.NewSyncTrigger(
		scheduler.SyncTriggerConfig{Interval: cfg.Scheduler.Interval},
		runners,
		log,
	)

	if cfg.Scheduler.Enabled {
		if err := trigger.Start(context.Background()); err != nil {
			log.Fatal("Failed to start sync trigger", zap.Error(err))
		}
		log.Info("Sync trigger started", zap.Duration("interval", cfg.Scheduler.Interval))
	} else {
		log.Warn("Sync trigger disabled by configuration")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Scheduler.Enabled {
		if err := trigger.Stop(ctx); err != nil {
			log.Error("Error stopping sync trigger", zap.Error(err))
		}
	}

	log.Info("Connector exited gracefully")
}

// buildRegistry constructs and initializes every gateway for one node
func buildRegistry(node *integration.Node, deps gateway.Deps) (*gateway.Registry, error) {
	customers, err := gateway.NewCustomerGateway(deps)
	if err != nil {
		return nil, err
	}
	orders, err := gateway.NewOrderGateway(deps)
	if err != nil {
		return nil, err
	}
	products, err := gateway.NewProductGateway(deps)
	if err != nil {
		return nil, err
	}
	stock, err := gateway.NewStockGateway(deps)
	if err != nil {
		return nil, err
	}
	creditMemos, err := gateway.NewCreditMemoGateway(deps)
	if err != nil {
		return nil, err
	}

	gateways := []gateway.Gateway{customers, orders, products, stock, creditMemos}
	for _, gw := range gateways {
		if err := gw.Init(node); err != nil {
			return nil, err
		}
	}

	return gateway.NewRegistry(gateways...)
}
