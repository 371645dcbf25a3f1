package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloutfeed/go-backend/internal/config"
	"cloutfeed/go-backend/internal/derivedauth"
	"cloutfeed/go-backend/internal/desoapi"
	"cloutfeed/go-backend/internal/identity"
	"cloutfeed/go-backend/internal/platform/metrics"
	"cloutfeed/go-backend/internal/platform/ratelimiter"
	"cloutfeed/go-backend/internal/securestore"
	"cloutfeed/go-backend/internal/signing"
	"cloutfeed/go-backend/internal/storage"
)

var errUsage = errors.New("usage")

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	store    securestore.Store
	accounts *identity.Manager
	node     *desoapi.Client
	signer   *signing.Signer
	flow     *derivedauth.Flow

	in         io.Reader
	out        io.Writer
	errOut     io.Writer
	metricsSrv *http.Server
	readSecret func(prompt string) (string, error)
}

func newApp(configPath string, in io.Reader, out, errOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return buildApp(cfg, in, out, errOut)
}

func buildApp(cfg config.Config, in io.Reader, out, errOut io.Writer) (*app, error) {
	logger := config.NewLogger(cfg.Log, errOut)
	m := metrics.New()

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open credential storage: %w", err)
	}

	accounts := identity.NewManager(storage.NewCredentialStore(store), logger)
	node := desoapi.New(cfg.API.BaseURL,
		desoapi.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		desoapi.WithRateLimit(cfg.API.RPS, cfg.API.Burst),
		desoapi.WithLogger(logger),
		desoapi.WithMetrics(m),
	)
	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		store:    store,
		accounts: accounts,
		node:     node,
		signer:   signing.New(accounts, node, logger, signing.WithMetrics(m)),
		in:       in,
		out:      out,
		errOut:   errOut,
	}
	a.readSecret = a.promptSecret

	provider := derivedauth.NewLoopbackProvider(derivedauth.LoopbackConfig{
		ProviderURL:  cfg.Identity.ProviderURL,
		CallbackAddr: cfg.Identity.CallbackAddr,
		Open: func(authURL string) error {
			_, err := fmt.Fprintf(errOut, "Open this URL to approve the derived key:\n  %s\n", authURL)
			return err
		},
		Limiter: ratelimiter.New(cfg.Identity.CallbackRPS, cfg.Identity.CallbackBurst, 0),
		Logger:  logger,
		Metrics: m,
	})
	a.flow = derivedauth.New(derivedauth.Config{
		Funding: derivedauth.Funding{
			PublicKey:         cfg.Funding.PublicKey,
			SeedHex:           cfg.Funding.SeedHex,
			MinBalanceNanos:   cfg.Funding.MinBalanceNanos,
			AmountNanos:       cfg.Funding.AmountNanos,
			FeeRateNanosPerKB: cfg.Funding.FeeRateNanosPerKB,
		},
		SettleDelay:          cfg.Flow.SettleDelay,
		MinFeeRateNanosPerKB: cfg.Flow.MinFeeRateNanosPerKB,
	}, provider, node, accounts, logger, derivedauth.WithMetrics(m))

	if cfg.Metrics.Addr != "" {
		a.startMetrics(cfg.Metrics.Addr)
	}
	return a, nil
}

func openStore(cfg config.StorageConfig) (securestore.Store, error) {
	if cfg.Backend == securestore.BackendMemory {
		return securestore.Open(cfg.Backend, "", "")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}
	passphrase, err := config.StoragePassphrase(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	var path string
	switch cfg.Backend {
	case securestore.BackendFile:
		path = filepath.Join(cfg.DataDir, "credentials.json")
	case securestore.BackendSQLite:
		path = filepath.Join(cfg.DataDir, "credentials.db")
	case securestore.BackendBadger:
		path = filepath.Join(cfg.DataDir, "credentials.badger")
	}
	return securestore.Open(cfg.Backend, path, passphrase)
}

func (a *app) startMetrics(addr string) {
	a.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           a.metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
}

func (a *app) Close() error {
	var errs []error
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errs = append(errs, a.metricsSrv.Shutdown(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
