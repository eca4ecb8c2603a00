package config

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

type Config struct {
	Console   ConsoleConfig   `json:"console"`
	Authority AuthorityConfig `json:"authority"`
	Push      PushConfig      `json:"push"`
	Pull      PullConfig      `json:"pull"`
	Sweeper   SweeperConfig   `json:"sweeper"`
	Storage   StorageConfig   `json:"storage"`
}

type ConsoleConfig struct {
	HTTPAddr string `json:"http_addr"`
}

type AuthorityConfig struct {
	BaseURL       string `json:"base_url"`
	Token         string `json:"token"`
	TimeoutMS     int    `json:"timeout_ms"`
	RetryAttempts int    `json:"retry_attempts"`
}

type PushConfig struct {
	RedisAddr       string `json:"redis_addr"`
	RedisDB         int    `json:"redis_db"`
	ApprovalChannel string `json:"approval_channel"`
	SettingsChannel string `json:"settings_channel"`
	ReconnectWaitMS int    `json:"reconnect_wait_ms"`
}

type PullConfig struct {
	PollIntervalSecs int `json:"poll_interval_secs"`
}

type SweeperConfig struct {
	TTLSecs      int    `json:"ttl_secs"`
	IntervalSecs int    `json:"interval_secs"`
	Cron         string `json:"cron"`
}

type StorageConfig struct {
	PostgresDSN  string `json:"postgres_dsn"`
	SnapshotPath string `json:"snapshot_path"`
	ConsoleID    string `json:"console_id"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Console.HTTPAddr) == "" {
		return errors.New("console.http_addr required")
	}
	if strings.TrimSpace(c.Authority.BaseURL) == "" {
		return errors.New("authority.base_url required")
	}
	if c.Authority.TimeoutMS < 0 {
		return errors.New("authority.timeout_ms must not be negative")
	}
	if c.Authority.RetryAttempts < 0 {
		return errors.New("authority.retry_attempts must not be negative")
	}
	if c.Pull.PollIntervalSecs < 0 {
		return errors.New("pull.poll_interval_secs must not be negative")
	}
	if c.Sweeper.TTLSecs < 0 {
		return errors.New("sweeper.ttl_secs must not be negative")
	}
	if c.Sweeper.IntervalSecs < 0 {
		return errors.New("sweeper.interval_secs must not be negative")
	}
	if strings.TrimSpace(c.Push.RedisAddr) == "" &&
		(strings.TrimSpace(c.Push.ApprovalChannel) != "" || strings.TrimSpace(c.Push.SettingsChannel) != "") {
		return errors.New("push.redis_addr required when push channels are set")
	}
	if strings.TrimSpace(c.Storage.PostgresDSN) != "" && strings.TrimSpace(c.Storage.SnapshotPath) != "" {
		return errors.New("storage.postgres_dsn and storage.snapshot_path are mutually exclusive")
	}
	return nil
}

func (c AuthorityConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c PushConfig) ReconnectWait() time.Duration {
	if c.ReconnectWaitMS <= 0 {
		return 0
	}
	return time.Duration(c.ReconnectWaitMS) * time.Millisecond
}

func (c PullConfig) PollInterval() time.Duration {
	if c.PollIntervalSecs <= 0 {
		return 0
	}
	return time.Duration(c.PollIntervalSecs) * time.Second
}

func (c SweeperConfig) TTL() time.Duration {
	if c.TTLSecs <= 0 {
		return 0
	}
	return time.Duration(c.TTLSecs) * time.Second
}

func (c SweeperConfig) Interval() time.Duration {
	if c.IntervalSecs <= 0 {
		return 0
	}
	return time.Duration(c.IntervalSecs) * time.Second
}
