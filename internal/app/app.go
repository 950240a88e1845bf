package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "chargeledger/libs/db"
	libredis "chargeledger/libs/redis"

	"chargeledger/internal/agent"
	"chargeledger/internal/config"
	"chargeledger/internal/events"
	"chargeledger/internal/gateway"
	"chargeledger/internal/hardware"
	httpserver "chargeledger/internal/http"
	"chargeledger/internal/ledger"
	"chargeledger/internal/membership"
	"chargeledger/internal/storage"
)

// App wires the node dependencies: state store, ledger, reconciliation agent
// and HTTP surface.
type App struct {
	server      *httpserver.Server
	agent       *agent.Agent
	relay       *events.RedisRelay
	bus         *events.Bus
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{logger: logger}

	store, err := app.buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := membership.NewRegistry()
	registry.SetOwner(ledger.OrgChargers, ledger.AccountID(cfg.Memberships.ChargerAdmin))
	registry.SetOwner(ledger.OrgPaymentValidators, ledger.AccountID(cfg.Memberships.ValidatorAdmin))
	for _, charger := range cfg.Memberships.Chargers {
		if err := registry.Add(ledger.OrgChargers, ledger.AccountID(charger)); err != nil {
			app.Close()
			return nil, err
		}
	}
	for _, validator := range cfg.Memberships.Validators {
		if err := registry.Add(ledger.OrgPaymentValidators, ledger.AccountID(validator)); err != nil {
			app.Close()
			return nil, err
		}
	}

	app.bus = events.NewBus(logger)
	coreLedger := ledger.New(store, registry, logger, ledger.WithEventSink(app.bus))

	if cfg.Tariff.InitialPriceCents > 0 {
		price, err := coreLedger.CurrentPrice(ctx)
		if err != nil {
			app.Close()
			return nil, err
		}
		if price == 0 {
			if err := coreLedger.SetCurrentPrice(ctx, ledger.AccountID(cfg.Memberships.ChargerAdmin), cfg.Tariff.InitialPriceCents); err != nil {
				app.Close()
				return nil, err
			}
		}
	}

	if cfg.Redis.Addr != "" {
		redisClient, err := libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.redisClient = redisClient
		app.relay = events.NewRedisRelay(redisClient, cfg.Redis.Channel, logger)
	}

	if err := app.buildAgent(cfg, coreLedger, logger); err != nil {
		app.Close()
		return nil, err
	}

	ledgerHandler := httpserver.NewLedgerHandler(coreLedger, logger)
	statsHandler := httpserver.NewStatsHandler(coreLedger, logger)
	eventFeed := httpserver.NewEventFeed(app.bus, logger)

	router := httpserver.NewRouter(httpserver.Routes{
		Ledger: ledgerHandler,
		Stats:  statsHandler.ServeHTTP,
		Events: eventFeed.ServeHTTP,
		Health: httpserver.NewHealthHandler(),
	})
	app.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return app, nil
}

func (a *App) buildStore(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		sqlDB, err := libdb.NewPostgresDB(cfg.Storage.DSN, cfg.Storage.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		a.db = sqlDB
		store := storage.NewPostgres(sqlDB)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("app: migrate ledger schema: %w", err)
		}
		return store, nil
	default:
		return storage.NewMemory(), nil
	}
}

func (a *App) buildAgent(cfg *config.Config, coreLedger *ledger.Ledger, logger *zap.Logger) error {
	if len(cfg.Agent.Chargers) == 0 && len(cfg.Agent.Validators) == 0 {
		return nil
	}

	chargers := make(map[ledger.AccountID]hardware.API, len(cfg.Agent.Chargers))
	for account, baseURL := range cfg.Agent.Chargers {
		chargers[ledger.AccountID(account)] = hardware.NewHTTPClient(baseURL, cfg.AgentTimeout(), logger)
	}

	var gatewayClient gateway.Client
	if len(cfg.Agent.Validators) > 0 {
		client, err := gateway.NewHTTPClient(cfg.Gateway.URL, cfg.Gateway.Secret, cfg.Gateway.NodeID, cfg.GatewayTimeout(), logger)
		if err != nil {
			return err
		}
		gatewayClient = client
	}

	validators := make([]ledger.AccountID, 0, len(cfg.Agent.Validators))
	for _, validator := range cfg.Agent.Validators {
		validators = append(validators, ledger.AccountID(validator))
	}

	a.agent = agent.New(agent.Config{
		Ledger:     coreLedger,
		Chargers:   chargers,
		Validators: validators,
		Gateway:    gatewayClient,
		Interval:   cfg.AgentInterval(),
		Timeout:    cfg.AgentTimeout(),
	}, logger)
	return nil
}

// Run starts the HTTP server, the reconciliation agent and the event relay,
// and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.agent != nil {
		go a.agent.Run(ctx)
	}
	if a.relay != nil {
		go a.relay.Run(ctx, a.bus)
	}
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
