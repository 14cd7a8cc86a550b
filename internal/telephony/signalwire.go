package telephony

import (
	"fmt"
	"log/slog"
	"net/http"

	"hotline-platform/internal/prompts"
)

const signalwireSignatureHeader = "X-SignalWire-Signature"

// SignalWireConfig configures the second hosted XML backend. It speaks the
// same markup and webhook shape as Twilio but lives on a per-space REST host
// and signs webhooks with HMAC-SHA256 under its own signing key.
type SignalWireConfig struct {
	Space         string // "<space>.signalwire.com"
	ProjectID     string
	APIToken      string
	SigningKey    string
	PublicBaseURL string
	HotlineNumber string

	BaseURL string // overrides the REST endpoint, for tests
}

// NewSignalWireAdapter reuses the XML dialect core with the SignalWire base
// URL and signature algorithm swapped in.
func NewSignalWireAdapter(cfg SignalWireConfig, res prompts.Resolver, log *slog.Logger, hc *http.Client) CallControl {
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s", cfg.Space)
	}
	return &xmlDialect{
		name: "signalwire",
		rest: &RestClient{
			BaseURL:    base,
			HTTPClient: hc,
			Decorate:   BasicAuth(cfg.ProjectID, cfg.APIToken),
		},
		sig:        NewSHA256URLSigner(cfg.SigningKey, signalwireSignatureHeader),
		prompts:    res,
		public:     cfg.PublicBaseURL,
		from:       cfg.HotlineNumber,
		accountSID: cfg.ProjectID,
		log:        log,
	}
}
