package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Hotline    HotlineConfig
	Provider   ProviderConfig
	Transcribe TranscribeConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable root of the webhook surface,
	// e.g. "https://hotline.example.org". Signature validation canonicalizes
	// request URLs against it.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// HotlineConfig is the routing-side configuration: the published number, the
// hashing salt, default policy knobs, and the static roster.
type HotlineConfig struct {
	Number   string
	HashSalt string

	Languages      []string
	CaptchaEnabled bool
	CaptchaDigits  int
	RateLimitCalls int
	QueueTimeout   time.Duration
	GatherTimeout  time.Duration

	// Roster entries are "identity=+E164" or "identity=sip:endpoint" pairs.
	Roster         []string
	FallbackRoster []string
}

// ProviderConfig selects and configures exactly one telephony backend.
type ProviderConfig struct {
	Name string // twilio, signalwire, vonage, plivo, bridge

	Twilio struct {
		AccountSID string
		AuthToken  string
	}
	SignalWire struct {
		Space      string
		ProjectID  string
		APIToken   string
		SigningKey string
	}
	Vonage struct {
		APIKey          string
		APISecret       string
		SignatureSecret string
	}
	Plivo struct {
		AuthID    string
		AuthToken string
	}
	Bridge struct {
		URL          string
		SharedSecret string
	}
}

type TranscribeConfig struct {
	URL    string
	APIKey string
	Model  string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Hotline.Number = strings.TrimSpace(os.Getenv("HOTLINE_NUMBER"))
	c.Hotline.HashSalt = os.Getenv("HOTLINE_HASH_SALT")
	c.Hotline.Languages = splitCSV(os.Getenv("HOTLINE_LANGUAGES"))
	c.Hotline.CaptchaEnabled = boolEnv("HOTLINE_CAPTCHA_ENABLED")
	c.Hotline.CaptchaDigits = optionalInt("HOTLINE_CAPTCHA_DIGITS")
	c.Hotline.RateLimitCalls = optionalInt("HOTLINE_RATE_LIMIT_CALLS")
	c.Hotline.QueueTimeout = mustDuration("HOTLINE_QUEUE_TIMEOUT")
	c.Hotline.GatherTimeout = mustDuration("HOTLINE_GATHER_TIMEOUT")
	c.Hotline.Roster = splitCSV(os.Getenv("HOTLINE_ROSTER"))
	c.Hotline.FallbackRoster = splitCSV(os.Getenv("HOTLINE_ROSTER_FALLBACK"))

	c.Provider.Name = strings.ToLower(strings.TrimSpace(os.Getenv("PROVIDER")))
	c.Provider.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Provider.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Provider.SignalWire.Space = strings.TrimSpace(os.Getenv("SIGNALWIRE_SPACE"))
	c.Provider.SignalWire.ProjectID = strings.TrimSpace(os.Getenv("SIGNALWIRE_PROJECT_ID"))
	c.Provider.SignalWire.APIToken = os.Getenv("SIGNALWIRE_API_TOKEN")
	c.Provider.SignalWire.SigningKey = os.Getenv("SIGNALWIRE_SIGNING_KEY")
	c.Provider.Vonage.APIKey = strings.TrimSpace(os.Getenv("VONAGE_API_KEY"))
	c.Provider.Vonage.APISecret = os.Getenv("VONAGE_API_SECRET")
	c.Provider.Vonage.SignatureSecret = os.Getenv("VONAGE_SIGNATURE_SECRET")
	c.Provider.Plivo.AuthID = strings.TrimSpace(os.Getenv("PLIVO_AUTH_ID"))
	c.Provider.Plivo.AuthToken = os.Getenv("PLIVO_AUTH_TOKEN")
	c.Provider.Bridge.URL = strings.TrimRight(strings.TrimSpace(os.Getenv("BRIDGE_URL")), "/")
	c.Provider.Bridge.SharedSecret = os.Getenv("BRIDGE_SHARED_SECRET")

	c.Transcribe.URL = strings.TrimSpace(os.Getenv("TRANSCRIBE_URL"))
	c.Transcribe.APIKey = os.Getenv("TRANSCRIBE_API_KEY")
	c.Transcribe.Model = strings.TrimSpace(os.Getenv("TRANSCRIBE_MODEL"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if !strings.HasPrefix(c.App.PublicBaseURL, "http") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.App.PublicBaseURL))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			// Allowed values are enforced below.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Hotline.Number == "" {
		errs = append(errs, errors.New("HOTLINE_NUMBER is required"))
	}
	if c.Hotline.HashSalt == "" {
		errs = append(errs, errors.New("HOTLINE_HASH_SALT is required"))
	}
	for _, entry := range append(append([]string{}, c.Hotline.Roster...), c.Hotline.FallbackRoster...) {
		if !strings.Contains(entry, "=") {
			errs = append(errs, fmt.Errorf("roster entry %q must be identity=destination", entry))
		}
	}

	if err := c.validateProvider(); err != nil {
		errs = append(errs, err)
	}

	return joinErrors(errs)
}

func (c Config) validateProvider() error {
	switch c.Provider.Name {
	case "twilio":
		if c.Provider.Twilio.AccountSID == "" || c.Provider.Twilio.AuthToken == "" {
			return errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required for PROVIDER=twilio")
		}
	case "signalwire":
		sw := c.Provider.SignalWire
		if sw.Space == "" || sw.ProjectID == "" || sw.APIToken == "" || sw.SigningKey == "" {
			return errors.New("SIGNALWIRE_SPACE, SIGNALWIRE_PROJECT_ID, SIGNALWIRE_API_TOKEN and SIGNALWIRE_SIGNING_KEY are required for PROVIDER=signalwire")
		}
	case "vonage":
		v := c.Provider.Vonage
		if v.APIKey == "" || v.APISecret == "" || v.SignatureSecret == "" {
			return errors.New("VONAGE_API_KEY, VONAGE_API_SECRET and VONAGE_SIGNATURE_SECRET are required for PROVIDER=vonage")
		}
	case "plivo":
		if c.Provider.Plivo.AuthID == "" || c.Provider.Plivo.AuthToken == "" {
			return errors.New("PLIVO_AUTH_ID and PLIVO_AUTH_TOKEN are required for PROVIDER=plivo")
		}
	case "bridge":
		if c.Provider.Bridge.URL == "" || c.Provider.Bridge.SharedSecret == "" {
			return errors.New("BRIDGE_URL and BRIDGE_SHARED_SECRET are required for PROVIDER=bridge")
		}
	case "":
		return errors.New("PROVIDER is required")
	default:
		return fmt.Errorf("PROVIDER must be one of twilio, signalwire, vonage, plivo, bridge, got %q", c.Provider.Name)
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func boolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
