package config

import (
	"testing"
	"time"
)

func baseValidConfig() Config {
	return Config{
		Console:   ConsoleConfig{HTTPAddr: ":8090"},
		Authority: AuthorityConfig{BaseURL: "http://authority"},
	}
}

func TestValidateMissing(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateOK(t *testing.T) {
	cfg := baseValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestValidateRequiresAuthorityBaseURL(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Authority.BaseURL = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing authority.base_url")
	}
}

func TestValidateRequiresHTTPAddr(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Console.HTTPAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing console.http_addr")
	}
}

func TestValidateNegativeDurations(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Sweeper.TTLSecs = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
}

func TestValidatePushChannelsWithoutAddr(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Push.ApprovalChannel = "hitl.approvals"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for push channels without redis addr")
	}
}

func TestValidateStorageExclusive(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Storage.PostgresDSN = "dsn"
	cfg.Storage.SnapshotPath = "/tmp/snap.json"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for both storage backends set")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{
		Authority: AuthorityConfig{TimeoutMS: 2500},
		Push:      PushConfig{ReconnectWaitMS: 750},
		Pull:      PullConfig{PollIntervalSecs: 15},
		Sweeper:   SweeperConfig{TTLSecs: 1800, IntervalSecs: 60},
	}
	if got := cfg.Authority.Timeout(); got != 2500*time.Millisecond {
		t.Fatalf("timeout: %v", got)
	}
	if got := cfg.Push.ReconnectWait(); got != 750*time.Millisecond {
		t.Fatalf("reconnect wait: %v", got)
	}
	if got := cfg.Pull.PollInterval(); got != 15*time.Second {
		t.Fatalf("poll interval: %v", got)
	}
	if got := cfg.Sweeper.TTL(); got != 30*time.Minute {
		t.Fatalf("ttl: %v", got)
	}
	if got := cfg.Sweeper.Interval(); got != time.Minute {
		t.Fatalf("interval: %v", got)
	}
	if got := (PullConfig{}).PollInterval(); got != 0 {
		t.Fatalf("zero poll interval: %v", got)
	}
}
