package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.CheckInterval != 5*time.Minute {
		t.Errorf("check_interval = %v", cfg.App.CheckInterval)
	}
	if cfg.App.BlockedCheckInterval != 60*time.Minute {
		t.Errorf("blocked_check_interval = %v", cfg.App.BlockedCheckInterval)
	}
	if cfg.App.ItemGracePeriod != 24*time.Hour {
		t.Errorf("item_grace_period = %v", cfg.App.ItemGracePeriod)
	}
	if cfg.App.MaxPagesAuto != 5 || cfg.App.MaxPagesManual != 10 {
		t.Errorf("page limits = %d/%d", cfg.App.MaxPagesAuto, cfg.App.MaxPagesManual)
	}
	if cfg.Vinted.BaseURL == "" || cfg.Vinted.TokenTTL != 24*time.Hour {
		t.Errorf("vinted defaults = %+v", cfg.Vinted)
	}
}

func TestLoad_FileWithDurationStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"app": {
			"log_level": "debug",
			"check_interval": "2m",
			"blocked_check_interval": "30m",
			"worker_pool_size": 8
		},
		"vinted": {
			"http_timeout": "10s"
		}
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.CheckInterval != 2*time.Minute {
		t.Errorf("check_interval = %v", cfg.App.CheckInterval)
	}
	if cfg.App.BlockedCheckInterval != 30*time.Minute {
		t.Errorf("blocked_check_interval = %v", cfg.App.BlockedCheckInterval)
	}
	if cfg.App.WorkerPoolSize != 8 {
		t.Errorf("worker_pool_size = %d", cfg.App.WorkerPoolSize)
	}
	if cfg.Vinted.HTTPTimeout != 10*time.Second {
		t.Errorf("http_timeout = %v", cfg.Vinted.HTTPTimeout)
	}
	// 未设置的字段回落到默认值
	if cfg.App.ItemGracePeriod != 24*time.Hour {
		t.Errorf("item_grace_period default = %v", cfg.App.ItemGracePeriod)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "user:pw@tcp(db:3306)/test?parseTime=true")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("APP_CHECK_INTERVAL", "90s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MySQL.DSN != "user:pw@tcp(db:3306)/test?parseTime=true" {
		t.Errorf("dsn = %q", cfg.MySQL.DSN)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.App.CheckInterval != 90*time.Second {
		t.Errorf("check_interval = %v", cfg.App.CheckInterval)
	}
}
