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
	internalhttp "EddyMixer/internal/http"
	"EddyMixer/internal/monitor"
	"EddyMixer/internal/neorpc"
	"EddyMixer/internal/services"
	"EddyMixer/internal/store"
	"EddyMixer/internal/vault"

	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "api").Logger()

	cfg, err := config.Load("")
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	if lvl, lerr := zerolog.ParseLevel(cfg.Log.Level); lerr == nil {
		logger = logger.Level(lvl)
	}

	ctx := context.Background()
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

	h := internalhttp.NewHandler(orders, deposits)
	srv := internalhttp.NewServer(h)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
