package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"trading-decision-engine/config"
	"trading-decision-engine/internal/api"
	"trading-decision-engine/internal/auth"
	"trading-decision-engine/internal/broker"
	"trading-decision-engine/internal/database"
	"trading-decision-engine/internal/engine"
	"trading-decision-engine/internal/events"
	"trading-decision-engine/internal/logging"
	"trading-decision-engine/internal/metrics"
	"trading-decision-engine/internal/strategy"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "decision-engine",
		Short: "Autonomous commodity trading decision engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default config.json or $CONFIG_FILE)")
	root.AddCommand(initConfigCmd(), tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [file]",
		Short: "Write a sample configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.json"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.GenerateSampleConfig(path); err != nil {
				return err
			}
			fmt.Printf("Sample configuration written to %s\n", path)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			jwt, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL())
			if err != nil {
				return err
			}
			resp, err := jwt.IssueToken(auth.OperatorClaims{Subject: subject, Role: auth.Role(role)})
			if err != nil {
				return err
			}
			fmt.Println(resp.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer or operator")
	return cmd
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := cfg.Logging
	logCfg.Component = "main"
	logger := logging.New(&logCfg)
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized", "level", logCfg.Level)

	settings, err := strategy.LoadOverrides(cfg.ProfilesFile, strategy.TierName(cfg.ActiveTier))
	if err != nil {
		return fmt.Errorf("failed to load strategy profiles: %w", err)
	}

	// Persistence
	var store database.Store = database.NewMemoryStore()
	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, cfg.Database.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		store = database.NewRepository(db)
	} else {
		logger.Warn("Database disabled, decisions are kept in memory only")
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer client.Close()
		redisClient = client
	}
	cooldowns := database.NewRedisCooldownStore(ctx, redisClient)

	eventBus := events.NewEventBus()
	if cfg.Kafka.Enabled {
		sink, err := events.NewKafkaSink(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create kafka sink: %w", err)
		}
		sink.Attach(eventBus)
		go sink.Run(ctx)
		defer sink.Close()
		logger.Info("Kafka event sink enabled", "topic", cfg.Kafka.Topic)
	}

	// Market data and brokers
	unitValues := make(map[string]float64, len(cfg.Assets))
	for _, a := range cfg.Assets {
		unitValues[a.ID] = a.UnitValue
	}
	unitValue := func(assetID string) float64 {
		if v, ok := unitValues[assetID]; ok && v > 0 {
			return v
		}
		return 1
	}

	feed := broker.NewSyntheticFeed(cfg.Paper.Synthetic, cfg.Engine.HistoryBars+50, cfg.Paper.Seed)
	gateways := make(map[string]broker.Gateway, len(cfg.Paper.Accounts))
	for _, acct := range cfg.Paper.Accounts {
		gateways[acct.Name] = broker.NewPaperGateway(acct, feed, unitValue)
		logger.Info("Paper broker ready", "broker", acct.Name, "balance", acct.Balance)
	}

	recorder := metrics.New()
	eng, err := engine.New(cfg.Engine, engine.Deps{
		Assets:    cfg.Assets,
		Feed:      feed,
		Sentiment: broker.NewStaticSentiment(),
		Gateways:  gateways,
		Settings:  strategy.NewStore(settings),
		Store:     store,
		Cooldowns: cooldowns,
		Bus:       eventBus,
		Metrics:   recorder,
	})
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	var jwt *auth.JWTManager
	if cfg.Server.AuthEnabled {
		jwt, err = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL())
		if err != nil {
			return err
		}
	}
	server, err := api.NewServer(cfg.Server, eng, eventBus, jwt, recorder.Handler())
	if err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.Info("Decision engine running",
		"assets", len(cfg.Assets),
		"brokers", len(gateways),
		"tier", cfg.ActiveTier,
		"dry_run", cfg.Engine.DryRun)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("API server stopped", "error", err)
		}
	}

	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
