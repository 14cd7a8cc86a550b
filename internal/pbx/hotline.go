package pbx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hotline-platform/internal/telephony"
)

// HotlineClient posts canonical events to the hotline API's webhook surface
// and decodes the command list the state machine answers with. Every request
// carries the shared-secret body signature; the API validates it through the
// same signer before parsing.
type HotlineClient struct {
	base string
	sig  telephony.BodySigner
	hc   *http.Client
	log  *slog.Logger
}

func NewHotlineClient(cfg HotlineConfig, log *slog.Logger) *HotlineClient {
	return &HotlineClient{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		sig: telephony.BodySigner{
			Secret:          []byte(cfg.SharedSecret),
			SignatureHeader: telephony.BridgeSignatureHeader,
			TimestampHeader: telephony.BridgeTimestampHeader,
			Hex:             true,
		},
		hc:  &http.Client{Timeout: 10 * time.Second},
		log: log,
	}
}

// PostEvent delivers one event and returns the commands to execute next. An
// empty command list is a valid answer (the state machine had nothing to say).
func (c *HotlineClient) PostEvent(ctx context.Context, path string, ev telephony.Event) ([]telephony.Command, error) {
	body, err := json.Marshal(telephony.EncodeEvent(ev))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.sig.Attach(req, time.Now(), body)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hotline %s: status %d", path, resp.StatusCode)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return telephony.DecodeCommands(raw)
}
