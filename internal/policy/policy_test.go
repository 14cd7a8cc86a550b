package policy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

type stubBans struct {
	banned bool
	err    error
}

func (s stubBans) IsBanned(context.Context, string) (bool, error) { return s.banned, s.err }

type stubLimits struct {
	allow bool
	err   error
}

func (s stubLimits) Allow(context.Context, string) (bool, error) { return s.allow, s.err }

type stubSettings struct {
	s   Settings
	err error
}

func (s stubSettings) Load(context.Context) (Settings, error) { return s.s, s.err }

func failOpen() *FailOpen {
	return &FailOpen{Log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestIsBannedFailsOpenOnError(t *testing.T) {
	f := failOpen()
	f.Bans = stubBans{banned: true, err: ErrCollaboratorUnavailable}
	if f.IsBanned(context.Background(), "h") {
		t.Fatal("errored check must read as not banned")
	}

	f.Bans = stubBans{banned: true}
	if !f.IsBanned(context.Background(), "h") {
		t.Fatal("healthy check lost the ban")
	}

	f.Bans = nil
	if f.IsBanned(context.Background(), "h") {
		t.Fatal("nil checker must read as not banned")
	}
}

func TestAllowFailsOpenOnError(t *testing.T) {
	f := failOpen()
	f.Limits = stubLimits{allow: false, err: ErrCollaboratorUnavailable}
	if !f.Allow(context.Background(), "h") {
		t.Fatal("errored limiter must allow the call")
	}

	f.Limits = stubLimits{allow: false}
	if f.Allow(context.Background(), "h") {
		t.Fatal("healthy limiter verdict ignored")
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	f := failOpen()
	f.Defaults = Settings{Languages: []string{"en", "de"}, CaptchaEnabled: true}
	f.Settings = stubSettings{err: ErrCollaboratorUnavailable}

	s := f.Load(context.Background())
	if !s.CaptchaEnabled || len(s.Languages) != 2 {
		t.Fatalf("defaults not applied: %+v", s)
	}
	if s.CaptchaDigits != 4 || s.RateLimitCalls != 3 {
		t.Fatalf("zero fields not defaulted: %+v", s)
	}
	if s.QueueTimeout != 90*time.Second || s.GatherTimeout != 10*time.Second {
		t.Fatalf("timeouts not defaulted: %+v", s)
	}
}

func TestLoadFillsGapsInStoredSettings(t *testing.T) {
	f := failOpen()
	f.Settings = stubSettings{s: Settings{QueueTimeout: 2 * time.Minute}}

	s := f.Load(context.Background())
	if s.QueueTimeout != 2*time.Minute {
		t.Fatalf("stored value overwritten: %v", s.QueueTimeout)
	}
	if len(s.Languages) != 1 || s.Languages[0] != "en" {
		t.Fatalf("language default missing: %v", s.Languages)
	}
}

func TestHashNumberIsDeterministicAndSaltSensitive(t *testing.T) {
	a := HashNumber("salt-a", "+4917012345678")
	if a != HashNumber("salt-a", "+4917012345678") {
		t.Fatal("hash not deterministic")
	}
	if a == HashNumber("salt-b", "+4917012345678") {
		t.Fatal("salt ignored")
	}
	if a == HashNumber("salt-a", "+4917012345679") {
		t.Fatal("number ignored")
	}
	if len(a) != 64 {
		t.Fatalf("want hex sha256, got %d chars", len(a))
	}
}
