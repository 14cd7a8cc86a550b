package policy

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"
)

// ErrCollaboratorUnavailable marks a failed lookup against an external
// policy collaborator. The call flow fails open on it: the hotline stays
// reachable even when enforcement infrastructure is down.
var ErrCollaboratorUnavailable = errors.New("policy: collaborator unavailable")

// BanChecker answers whether a hashed caller number is banned.
type BanChecker interface {
	IsBanned(ctx context.Context, callerHash string) (bool, error)
}

// RateLimiter answers whether a caller is within the trailing-window call
// allowance.
type RateLimiter interface {
	Allow(ctx context.Context, callerHash string) (bool, error)
}

// SpamReporter accepts volunteer spam reports for a caller hash.
type SpamReporter interface {
	ReportSpam(ctx context.Context, callerHash, reporterID string) error
}

// Settings are the runtime-tunable hotline knobs, read per call and never
// cached across calls.
type Settings struct {
	CaptchaEnabled bool
	CaptchaDigits  int
	RateLimitCalls int // calls allowed inside the trailing window
	QueueTimeout   time.Duration
	GatherTimeout  time.Duration
	Languages      []string
}

func (s Settings) withDefaults() Settings {
	out := s
	if out.CaptchaDigits <= 0 {
		out.CaptchaDigits = 4
	}
	if out.RateLimitCalls <= 0 {
		out.RateLimitCalls = 3
	}
	if out.QueueTimeout <= 0 {
		out.QueueTimeout = 90 * time.Second
	}
	if out.GatherTimeout <= 0 {
		out.GatherTimeout = 10 * time.Second
	}
	if len(out.Languages) == 0 {
		out.Languages = []string{"en"}
	}
	return out
}

// SettingsStore loads Settings from wherever the admin surface writes them.
type SettingsStore interface {
	Load(ctx context.Context) (Settings, error)
}

// HashNumber hashes an E.164 number for persistence and lookups. The clear
// number stays in memory only; everything at rest sees this value.
func HashNumber(salt, number string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(number))
	return hex.EncodeToString(mac.Sum(nil))
}

/* ===================== FAIL-OPEN WRAPPERS ===================== */

// FailOpen bundles the policy collaborators behind the fail-open posture:
// a transport error during a check is logged for audit and the call proceeds
// as if the check passed ("not banned", "not limited", default settings).
type FailOpen struct {
	Bans     BanChecker
	Limits   RateLimiter
	Settings SettingsStore
	Defaults Settings
	Log      *slog.Logger
}

func (f *FailOpen) IsBanned(ctx context.Context, callerHash string) bool {
	if f.Bans == nil {
		return false
	}
	banned, err := f.Bans.IsBanned(ctx, callerHash)
	if err != nil {
		f.Log.Warn("ban check failed open", "err", err)
		return false
	}
	return banned
}

func (f *FailOpen) Allow(ctx context.Context, callerHash string) bool {
	if f.Limits == nil {
		return true
	}
	ok, err := f.Limits.Allow(ctx, callerHash)
	if err != nil {
		f.Log.Warn("rate limit check failed open", "err", err)
		return true
	}
	return ok
}

func (f *FailOpen) Load(ctx context.Context) Settings {
	if f.Settings == nil {
		return f.Defaults.withDefaults()
	}
	s, err := f.Settings.Load(ctx)
	if err != nil {
		f.Log.Warn("settings load failed open", "err", err)
		return f.Defaults.withDefaults()
	}
	return s.withDefaults()
}
