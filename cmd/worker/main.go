package main

import (
	"context"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EddyMixer/internal/config"
	"EddyMixer/internal/db"
	"EddyMixer/internal/metrics"
	"EddyMixer/internal/monitor"
	"EddyMixer/internal/neorpc"
	"EddyMixer/internal/payout"
	"EddyMixer/internal/services"
	"EddyMixer/internal/store"
	"EddyMixer/internal/vault"
	"EddyMixer/internal/worker"

	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()

	cfg, err := config.Load("")
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	if lvl, lerr := zerolog.ParseLevel(cfg.Log.Level); lerr == nil {
		logger = logger.Level(lvl)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()

	vlt, err := vault.New(cfg.Vault.MasterKey, cfg.Vault.RetiredKeys)
	if err != nil {
		logger.Fatal().Err(err).Msg("vault init failed")
	}

	sponsorRaw, err := hex.DecodeString(cfg.Chain.SponsorKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("sponsor key is not hex")
	}
	sponsor, err := vault.ParseSigningKey(sponsorRaw)
	vault.Zero(sponsorRaw)
	if err != nil {
		logger.Fatal().Err(err).Msg("sponsor key invalid")
	}

	chainClient, err := neorpc.New(neorpc.Config{
		Endpoints:         cfg.Chain.RPCEndpoints,
		NetworkMagic:      cfg.Chain.NetworkMagic,
		FailThreshold:     cfg.Chain.FailThreshold,
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
		TxLifetimeBlocks:  uint32(cfg.Chain.TxLifetimeBlocks),
		SponsorKey:        sponsor,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("rpc client init failed")
	}

	st := store.NewPostgres(pool)
	orders := services.OrderService{
		Store:    st,
		Vault:    vlt,
		Reader:   chainClient,
		TTL:      time.Duration(cfg.Orders.DepositWindowMinutes) * time.Minute,
		DelayMin: time.Duration(cfg.Orders.PayoutDelayMinMinutes) * time.Minute,
		DelayMax: time.Duration(cfg.Orders.PayoutDelayMaxMinutes) * time.Minute,
		Log:      logger,
	}
	deposits := monitor.Monitor{
		Store:  st,
		Reader: chainClient,
		Orders: orders,
		Log:    logger,
	}
	payouts := payout.Executor{
		Store:        st,
		Writer:       chainClient,
		Vault:        vlt,
		MaxAttempts:  cfg.Payout.MaxAttempts,
		RetryBackoff: time.Duration(cfg.Payout.RetryBackoffSeconds) * time.Second,
		ConfirmWait:  time.Duration(cfg.Payout.ConfirmWaitSeconds) * time.Second,
		StaleMargin:  uint32(cfg.Payout.StaleMarginBlocks),
		Log:          logger,
	}

	wsEndpoint := cfg.Chain.WSEndpoint
	if wsEndpoint == "" && len(cfg.Chain.RPCEndpoints) > 0 {
		wsEndpoint = neorpc.DefaultWSEndpoint(cfg.Chain.RPCEndpoints[0])
	}

	w := worker.Worker{
		Store:           st,
		Deposits:        deposits,
		Payouts:         payouts,
		DepositInterval: time.Duration(cfg.Worker.DepositIntervalSeconds) * time.Second,
		PayoutInterval:  time.Duration(cfg.Worker.PayoutIntervalSeconds) * time.Second,
		BatchSize:       cfg.Worker.BatchSize,
		WSEndpoint:      wsEndpoint,
		ExpirySchedule:  cfg.Sweep.ExpirySchedule,
		PurgeSchedule:   cfg.Sweep.PurgeSchedule,
		PurgeRetention:  time.Duration(cfg.Sweep.PurgeRetentionHours) * time.Hour,
		StatusSchedule:  cfg.Sweep.StatusSchedule,
		Log:             logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())
	opsServer := &http.Server{Addr: cfg.Worker.HealthAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", cfg.Worker.HealthAddr).Msg("ops listening")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("ops server error")
		}
	}()

	logger.Info().Str("rpc", chainClient.BaseURL()).Str("ws", wsEndpoint).Msg("worker started")
	if err := w.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = opsServer.Shutdown(ctxShutdown)
}
