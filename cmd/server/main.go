package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"salesboard/internal/audit"
	"salesboard/internal/cache"
	"salesboard/internal/config"
	"salesboard/internal/httpapi"
	"salesboard/internal/realtime"
	"salesboard/internal/service"
	"salesboard/internal/stages"
	"salesboard/internal/store"
	"salesboard/internal/store/memory"
	pgstore "salesboard/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	invoicing, err := parseInvoiceSettings(cfg)
	if err != nil {
		logger.Error("invalid invoice configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	catalog := stages.Default()
	if cfg.StageCatalogFile != "" {
		catalog, err = stages.LoadFile(cfg.StageCatalogFile)
		if err != nil {
			logger.Error("stage catalog", slog.String("file", cfg.StageCatalogFile), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("postgres migrate", slog.String("error", err.Error()))
			os.Exit(1)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	boardCache := cache.BoardCache(cache.NewMemoryBoardCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisBoardCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process cache", slog.String("error", err.Error()))
		} else {
			boardCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: in-process")
	}

	sinks := audit.Multi{audit.NewLogSink(logger)}
	if cfg.MongoURI != "" {
		mongoSink, err := audit.NewMongoSink(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Warn("mongo unavailable, audit goes to log only", slog.String("error", err.Error()))
		} else {
			sinks = append(sinks, mongoSink)
			closers = append(closers, mongoSink.Close)
			logger.Info("audit: mongo", slog.String("database", cfg.MongoDB))
		}
	}

	hub := realtime.NewHub(cfg.AllowedOrigin, logger)
	closers = append([]func() error{hub.Close}, closers...)

	svc := service.New(repo, service.Options{
		Catalog:           catalog,
		BoardCache:        boardCache,
		BoardCacheTTL:     time.Duration(cfg.BoardCacheTTLSeconds) * time.Second,
		Audit:             sinks,
		Publisher:         hub,
		Logger:            logger,
		InvoicePrefix:     cfg.InvoicePrefix,
		Numbering:         invoicing.numbering,
		DefaultTaxPercent: &invoicing.taxPercent,
		InvoiceDueDays:    cfg.InvoiceDueDays,
	})

	var verifier *httpapi.TokenVerifier
	if cfg.AuthSecret != "" {
		verifier = httpapi.NewTokenVerifier(cfg.AuthSecret)
	} else {
		logger.Warn("AUTH_SECRET not set; API accepts unauthenticated requests")
	}
	api := httpapi.New(svc, verifier, hub, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("salesboard listening", slog.String("addr", cfg.Address()), slog.String("numbering", string(invoicing.numbering)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// validateSecurityConfig allows an unset AUTH_SECRET (open dev mode) but
// rejects a short one.
func validateSecurityConfig(cfg config.Config) error {
	if cfg.AuthSecret != "" && len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 characters")
	}
	return nil
}

type invoiceSettings struct {
	numbering  service.NumberingStrategy
	taxPercent decimal.Decimal
}

func parseInvoiceSettings(cfg config.Config) (invoiceSettings, error) {
	if strings.ContainsAny(cfg.InvoicePrefix, "/ \t\r\n") {
		return invoiceSettings{}, fmt.Errorf("INVOICE_PREFIX %q must not contain '/' or whitespace", cfg.InvoicePrefix)
	}
	strategy, err := service.ParseNumbering(cfg.InvoiceNumbering)
	if err != nil {
		return invoiceSettings{}, err
	}
	tax, err := decimal.NewFromString(cfg.DefaultTaxPercent)
	if err != nil {
		return invoiceSettings{}, fmt.Errorf("DEFAULT_TAX_PERCENT %q: %w", cfg.DefaultTaxPercent, err)
	}
	if tax.IsNegative() || tax.GreaterThan(decimal.NewFromInt(100)) {
		return invoiceSettings{}, fmt.Errorf("DEFAULT_TAX_PERCENT must be between 0 and 100, got %s", tax)
	}
	return invoiceSettings{numbering: strategy, taxPercent: tax}, nil
}
