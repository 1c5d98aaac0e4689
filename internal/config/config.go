package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Chain struct {
		NetworkMagic      uint32   `yaml:"network_magic"`
		RPCEndpoints      []string `yaml:"rpc_endpoints"`
		WSEndpoint        string   `yaml:"ws_endpoint"`
		FailThreshold     int      `yaml:"fail_threshold"`
		RequestsPerSecond int      `yaml:"requests_per_second"`
		TxLifetimeBlocks  int      `yaml:"tx_lifetime_blocks"`
		SponsorKey        string   `yaml:"sponsor_key"`
	} `yaml:"chain"`
	Vault struct {
		MasterKey   string   `yaml:"master_key"`
		RetiredKeys []string `yaml:"retired_keys"`
	} `yaml:"vault"`
	Orders struct {
		DepositWindowMinutes  int `yaml:"deposit_window_minutes"`
		PayoutDelayMinMinutes int `yaml:"payout_delay_min_minutes"`
		PayoutDelayMaxMinutes int `yaml:"payout_delay_max_minutes"`
	} `yaml:"orders"`
	Payout struct {
		MaxAttempts         int `yaml:"max_attempts"`
		RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`
		ConfirmWaitSeconds  int `yaml:"confirm_wait_seconds"`
		StaleMarginBlocks   int `yaml:"stale_margin_blocks"`
	} `yaml:"payout"`
	Worker struct {
		DepositIntervalSeconds int    `yaml:"deposit_interval_seconds"`
		PayoutIntervalSeconds  int    `yaml:"payout_interval_seconds"`
		BatchSize              int    `yaml:"batch_size"`
		HealthAddr             string `yaml:"health_addr"`
	} `yaml:"worker"`
	Sweep struct {
		ExpirySchedule      string `yaml:"expiry_schedule"`
		PurgeSchedule       string `yaml:"purge_schedule"`
		PurgeRetentionHours int    `yaml:"purge_retention_hours"`
		StatusSchedule      string `yaml:"status_schedule"`
	} `yaml:"sweep"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Chain.NetworkMagic == 0 || len(cfg.Chain.RPCEndpoints) == 0 {
		return nil, errors.New("chain config is incomplete")
	}
	if cfg.Chain.SponsorKey == "" {
		return nil, errors.New("chain.sponsor_key is required")
	}
	if cfg.Vault.MasterKey == "" {
		return nil, errors.New("vault.master_key is required")
	}
	if cfg.Orders.PayoutDelayMinMinutes < 1 || cfg.Orders.PayoutDelayMaxMinutes < cfg.Orders.PayoutDelayMinMinutes {
		return nil, errors.New("orders payout delay window is invalid")
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("NETWORK_MAGIC"); v != "" {
		cfg.Chain.NetworkMagic = uint32(atoi64Or(int64(cfg.Chain.NetworkMagic), v))
	}
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		cfg.Chain.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("WS_ENDPOINT"); v != "" {
		cfg.Chain.WSEndpoint = v
	}
	if v := os.Getenv("RPC_FAIL_THRESHOLD"); v != "" {
		cfg.Chain.FailThreshold = atoiOr(cfg.Chain.FailThreshold, v)
	}
	if v := os.Getenv("RPC_REQUESTS_PER_SECOND"); v != "" {
		cfg.Chain.RequestsPerSecond = atoiOr(cfg.Chain.RequestsPerSecond, v)
	}
	if v := os.Getenv("TX_LIFETIME_BLOCKS"); v != "" {
		cfg.Chain.TxLifetimeBlocks = atoiOr(cfg.Chain.TxLifetimeBlocks, v)
	}
	if v := os.Getenv("SPONSOR_KEY"); v != "" {
		cfg.Chain.SponsorKey = v
	}
	if v := os.Getenv("MASTER_KEY"); v != "" {
		cfg.Vault.MasterKey = v
	}
	if v := os.Getenv("RETIRED_MASTER_KEYS"); v != "" {
		cfg.Vault.RetiredKeys = splitCommaList(v)
	}
	if v := os.Getenv("DEPOSIT_WINDOW_MINUTES"); v != "" {
		cfg.Orders.DepositWindowMinutes = atoiOr(cfg.Orders.DepositWindowMinutes, v)
	}
	if v := os.Getenv("PAYOUT_DELAY_MIN_MINUTES"); v != "" {
		cfg.Orders.PayoutDelayMinMinutes = atoiOr(cfg.Orders.PayoutDelayMinMinutes, v)
	}
	if v := os.Getenv("PAYOUT_DELAY_MAX_MINUTES"); v != "" {
		cfg.Orders.PayoutDelayMaxMinutes = atoiOr(cfg.Orders.PayoutDelayMaxMinutes, v)
	}
	if v := os.Getenv("PAYOUT_MAX_ATTEMPTS"); v != "" {
		cfg.Payout.MaxAttempts = atoiOr(cfg.Payout.MaxAttempts, v)
	}
	if v := os.Getenv("PAYOUT_RETRY_BACKOFF_SECONDS"); v != "" {
		cfg.Payout.RetryBackoffSeconds = atoiOr(cfg.Payout.RetryBackoffSeconds, v)
	}
	if v := os.Getenv("PAYOUT_CONFIRM_WAIT_SECONDS"); v != "" {
		cfg.Payout.ConfirmWaitSeconds = atoiOr(cfg.Payout.ConfirmWaitSeconds, v)
	}
	if v := os.Getenv("PAYOUT_STALE_MARGIN_BLOCKS"); v != "" {
		cfg.Payout.StaleMarginBlocks = atoiOr(cfg.Payout.StaleMarginBlocks, v)
	}
	if v := os.Getenv("WORKER_DEPOSIT_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.DepositIntervalSeconds = atoiOr(cfg.Worker.DepositIntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_PAYOUT_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.PayoutIntervalSeconds = atoiOr(cfg.Worker.PayoutIntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		cfg.Worker.BatchSize = atoiOr(cfg.Worker.BatchSize, v)
	}
	if v := os.Getenv("WORKER_HEALTH_ADDR"); v != "" {
		cfg.Worker.HealthAddr = v
	}
	if v := os.Getenv("SWEEP_EXPIRY_SCHEDULE"); v != "" {
		cfg.Sweep.ExpirySchedule = v
	}
	if v := os.Getenv("SWEEP_PURGE_SCHEDULE"); v != "" {
		cfg.Sweep.PurgeSchedule = v
	}
	if v := os.Getenv("SWEEP_PURGE_RETENTION_HOURS"); v != "" {
		cfg.Sweep.PurgeRetentionHours = atoiOr(cfg.Sweep.PurgeRetentionHours, v)
	}
	if v := os.Getenv("SWEEP_STATUS_SCHEDULE"); v != "" {
		cfg.Sweep.StatusSchedule = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Chain.FailThreshold <= 0 {
		cfg.Chain.FailThreshold = 3
	}
	if cfg.Chain.RequestsPerSecond <= 0 {
		cfg.Chain.RequestsPerSecond = 10
	}
	if cfg.Chain.TxLifetimeBlocks <= 0 {
		cfg.Chain.TxLifetimeBlocks = 240
	}
	if cfg.Orders.DepositWindowMinutes <= 0 {
		cfg.Orders.DepositWindowMinutes = 20
	}
	if cfg.Orders.PayoutDelayMinMinutes == 0 {
		cfg.Orders.PayoutDelayMinMinutes = 5
	}
	if cfg.Orders.PayoutDelayMaxMinutes == 0 {
		cfg.Orders.PayoutDelayMaxMinutes = 30
	}
	if cfg.Payout.MaxAttempts <= 0 {
		cfg.Payout.MaxAttempts = 5
	}
	if cfg.Payout.RetryBackoffSeconds <= 0 {
		cfg.Payout.RetryBackoffSeconds = 60
	}
	if cfg.Payout.ConfirmWaitSeconds <= 0 {
		cfg.Payout.ConfirmWaitSeconds = 15
	}
	if cfg.Payout.StaleMarginBlocks <= 0 {
		cfg.Payout.StaleMarginBlocks = 5
	}
	if cfg.Worker.DepositIntervalSeconds <= 0 {
		cfg.Worker.DepositIntervalSeconds = 15
	}
	if cfg.Worker.PayoutIntervalSeconds <= 0 {
		cfg.Worker.PayoutIntervalSeconds = 10
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 100
	}
	if cfg.Worker.HealthAddr == "" {
		cfg.Worker.HealthAddr = ":9091"
	}
	if cfg.Sweep.ExpirySchedule == "" {
		cfg.Sweep.ExpirySchedule = "@every 1m"
	}
	if cfg.Sweep.PurgeSchedule == "" {
		cfg.Sweep.PurgeSchedule = "@every 1h"
	}
	if cfg.Sweep.PurgeRetentionHours <= 0 {
		cfg.Sweep.PurgeRetentionHours = 720
	}
	if cfg.Sweep.StatusSchedule == "" {
		cfg.Sweep.StatusSchedule = "@every 30s"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
