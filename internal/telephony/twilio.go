package telephony

import (
	"log/slog"
	"net/http"

	"hotline-platform/internal/prompts"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// TwilioConfig is everything the Twilio adapter needs. PublicBaseURL is the
// externally reachable root of our webhook surface (scheme + host, no
// trailing slash).
type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	PublicBaseURL string
	HotlineNumber string

	// BaseURL overrides the REST endpoint, for tests.
	BaseURL string
}

// NewTwilioAdapter builds the Twilio variant of the XML dialect: basic-auth
// REST, HMAC-SHA1 webhook signatures.
func NewTwilioAdapter(cfg TwilioConfig, res prompts.Resolver, log *slog.Logger, hc *http.Client) CallControl {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.twilio.com"
	}
	return &xmlDialect{
		name: "twilio",
		rest: &RestClient{
			BaseURL:    base,
			HTTPClient: hc,
			Decorate:   BasicAuth(cfg.AccountSID, cfg.AuthToken),
		},
		sig:        NewSHA1URLSigner(cfg.AuthToken, twilioSignatureHeader),
		prompts:    res,
		public:     cfg.PublicBaseURL,
		from:       cfg.HotlineNumber,
		accountSID: cfg.AccountSID,
		log:        log,
	}
}
