package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autodm/internal/config"
	"autodm/internal/infrastructure"
	"autodm/internal/interfaces"
	httpiface "autodm/internal/interfaces/http"
	"autodm/internal/logger"
	"autodm/internal/repository"
	"autodm/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "autodm",
		Usage: "engagement auto-reply dispatch and quota engine",
	}

	app.Commands = []*cli.Command{
		serveCmd,
		migrateCmd,
		pruneCmd,
		seedCmd,
		tokenCmd,
	}

	return app.Run(args)
}

// setup loads config, builds the logger and opens the storage backends.
func setup(ctx context.Context) (*config.Config, *zap.Logger, *stores, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := logger.New(cfg.ServiceEnvironment)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, nil, err
	}

	return cfg, log, st, nil
}

func newNotifier(cfg *config.Config, log *zap.Logger) interfaces.Notifier {
	if cfg.TelegramBotToken == "" || cfg.TelegramAlertChatID == 0 {
		return infrastructure.NopNotifier{}
	}
	n, err := infrastructure.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAlertChatID)
	if err != nil {
		log.Warn("Telegram alerts disabled", zap.Error(err))
		return infrastructure.NopNotifier{}
	}
	log.Info("Telegram alerts enabled", zap.Int64("chat_id", cfg.TelegramAlertChatID))
	return n
}

func newLedger(cfg *config.Config, st *stores, notifier interfaces.Notifier, log *zap.Logger) *usecases.UsageLedger {
	limits := usecases.TierLimits{Free: cfg.FreeHourlyCallLimit, Pro: cfg.ProHourlyCallLimit}
	return usecases.NewUsageLedger(st.usage, st.tiers, notifier, limits, log)
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the webhook intake and owner API",
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, log, st, err := setup(ctx)
		if err != nil {
			return err
		}
		defer log.Sync()
		defer st.Close()

		if err := st.migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		if cfg.ServiceEnvironment == "production" {
			gin.SetMode(gin.ReleaseMode)
		}

		notifier := newNotifier(cfg, log)

		outbound := infrastructure.NewKeyedRateLimiter(cfg.OutboundRate, cfg.OutboundBurst)
		defer outbound.Close()
		gateway := infrastructure.NewPacedGateway(
			infrastructure.NewGatewayClient(cfg.GatewayURL, cfg.GatewayTimeout), outbound)

		tokens := usecases.NewStateTokenCodec(cfg.StateTokenSecret, cfg.StateTokenTTL)
		ledger := newLedger(cfg, st, notifier, log)

		dispatcher := usecases.NewDispatcher(usecases.DispatcherDeps{
			Dedup:     usecases.NewDeduplicator(st.events),
			Accounts:  st.accounts,
			Rules:     st.rules,
			Tiers:     st.tiers,
			Matcher:   usecases.NewTemplateMatcher(),
			Estimator: usecases.NewCostEstimator(),
			Ledger:    ledger,
			Driver:    usecases.NewConversationDriver(gateway, tokens, log),
			Recorder:  usecases.NewOutcomeRecorder(st.events, st.rules, st.accounts, log),
			Queue:     st.queue,
			Tokens:    tokens,
			Notifier:  notifier,
		}, log)

		intake := infrastructure.NewKeyedRateLimiter(cfg.IntakeRatePerSec, cfg.IntakeBurst)
		defer intake.Close()

		handler := httpiface.NewHandler(httpiface.HandlerDeps{
			Dispatcher:      dispatcher,
			Ledger:          ledger,
			Accounts:        st.accounts,
			Logs:            st.logs,
			Middleware:      httpiface.NewMiddleware(cfg.APIJWTSecret, cfg.WebhookSecret, intake, log),
			DispatchTimeout: cfg.DispatchTimeout,
		}, log)

		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			ticker := time.NewTicker(cfg.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, err := ledger.Prune(gctx, cfg.WindowRetention); err != nil {
						log.Error("Failed to prune usage windows", zap.Error(err))
					}
				}
			}
		})

		g.Go(func() error {
			<-gctx.Done()
			log.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DispatchTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP shutdown failed", zap.Error(err))
			}
			handler.Wait()
			return nil
		})

		return g.Wait()
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or update the database schema",
	Action: func(cctx *cli.Context) error {
		_, log, st, err := setup(cctx.Context)
		if err != nil {
			return err
		}
		defer log.Sync()
		defer st.Close()

		if err := st.migrate(cctx.Context); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("Schema up to date")
		return nil
	},
}

var pruneCmd = &cli.Command{
	Name:  "prune",
	Usage: "delete usage windows older than the retention period",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "retention",
			Usage: "override WINDOW_RETENTION",
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, log, st, err := setup(cctx.Context)
		if err != nil {
			return err
		}
		defer log.Sync()
		defer st.Close()

		retention := cfg.WindowRetention
		if cctx.IsSet("retention") {
			retention = cctx.Duration("retention")
		}

		n, err := newLedger(cfg, st, infrastructure.NopNotifier{}, log).Prune(cctx.Context, retention)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d usage windows\n", n)
		return nil
	},
}

var seedCmd = &cli.Command{
	Name:  "seed",
	Usage: "load subscriptions, accounts and rules from a JSON fixture",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "file",
			Usage:    "path to the fixture file",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		_, log, st, err := setup(cctx.Context)
		if err != nil {
			return err
		}
		defer log.Sync()
		defer st.Close()

		fixture, err := repository.LoadFixture(cctx.String("file"))
		if err != nil {
			return err
		}
		if err := st.migrate(cctx.Context); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if err := fixture.Apply(cctx.Context, st.fixtures); err != nil {
			return err
		}
		log.Info("Fixture applied",
			zap.Int("subscriptions", len(fixture.Subscriptions)),
			zap.Int("accounts", len(fixture.Accounts)),
			zap.Int("rules", len(fixture.Rules)))
		return nil
	},
}

var tokenCmd = &cli.Command{
	Name:  "token",
	Usage: "issue an owner API bearer token",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "owner",
			Usage:    "owner id the token is scoped to",
			Required: true,
		},
		&cli.DurationFlag{
			Name:  "ttl",
			Usage: "token lifetime",
			Value: 30 * 24 * time.Hour,
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		token, err := usecases.NewAuthUsecase(cfg.APIJWTSecret).IssueOwnerToken(cctx.String("owner"), cctx.Duration("ttl"))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}
