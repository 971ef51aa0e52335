package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/warp/walletdesk/api"
	"github.com/warp/walletdesk/audit"
	"github.com/warp/walletdesk/config"
	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/directory"
	"github.com/warp/walletdesk/docstore"
	"github.com/warp/walletdesk/inventory"
	"github.com/warp/walletdesk/metrics"
	"github.com/warp/walletdesk/notify"
	"github.com/warp/walletdesk/orders"
	"github.com/warp/walletdesk/settings"
	"github.com/warp/walletdesk/wallet"
)

const shutdownTimeout = 30 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides http.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	log := logrus.NewEntry(cfg.Logger())

	reg, m := newMetrics()
	store, err := openStore(cfg, log, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("closing document store")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, err := buildHandler(ctx, cfg, store, m, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewRouter(handler, api.RouterOptions{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// buildHandler wires the domain services over one store.
func buildHandler(ctx context.Context, cfg config.Config, store *docstore.Store, m *metrics.Metrics, log *logrus.Entry) (*api.Handler, error) {
	ledger := wallet.New(store, wallet.WithLogger(log), wallet.WithMetrics(m))
	inv := inventory.New(store, inventory.WithLogger(log))
	cfgSvc := settings.New(store, log)
	auditLog := audit.New(store, audit.DefaultLimit, nil)

	admins := directory.NewAdmins(store, log)
	if err := admins.EnsureSuper(ctx, core.UserID(cfg.SuperAdminID)); err != nil {
		return nil, fmt.Errorf("seed super admin: %w", err)
	}
	if cfg.SuperAdminID == 0 {
		log.Warn("no super admin configured")
	}

	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.Telegram.Token != "" {
		tg, err := notify.DialTelegram(cfg.Telegram.Token, admins, log)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, tg)
	}

	return &api.Handler{
		Users:     directory.NewUsers(store, ledger, log, nil),
		Admins:    admins,
		Ledger:    ledger,
		Inventory: inv,
		Orders: orders.New(store, ledger, inv, cfgSvc,
			orders.WithAudit(auditLog),
			orders.WithLogger(log),
			orders.WithMetrics(m),
		),
		Settings: cfgSvc,
		Audit:    auditLog,
		Notifier: notifiers,
		Log:      log.WithField("component", "api"),
	}, nil
}
