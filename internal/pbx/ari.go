package pbx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// CallAPI is the slice of the PBX's REST interface the bridge drives. The
// concrete client talks ARI; tests substitute a recorder.
type CallAPI interface {
	Answer(ctx context.Context, channelID string) error
	Hangup(ctx context.Context, channelID, reason string) error
	Play(ctx context.Context, channelID, media string) (string, error)
	StartHold(ctx context.Context, channelID string) error
	StopHold(ctx context.Context, channelID string) error
	Originate(ctx context.Context, endpoint, callerID string, appArgs []string) (string, error)
	Record(ctx context.Context, channelID, name string, maxSeconds int) error
	StoredRecording(ctx context.Context, name string) ([]byte, error)
	CreateBridge(ctx context.Context) (string, error)
	AddToBridge(ctx context.Context, bridgeID, channelID string) error
	DestroyBridge(ctx context.Context, bridgeID string) error
	Ping(ctx context.Context) error
}

// ARIClient is the concrete CallAPI against an Asterisk REST Interface.
type ARIClient struct {
	base string
	app  string
	user string
	pass string
	hc   *http.Client
	log  *slog.Logger
}

func NewARIClient(cfg ARIConfig, log *slog.Logger) *ARIClient {
	return &ARIClient{
		base: strings.TrimRight(cfg.URL, "/"),
		app:  cfg.App,
		user: cfg.Username,
		pass: cfg.Password,
		hc:   &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

func (c *ARIClient) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.user, c.pass)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ari %s %s: status %d: %s", method, path, resp.StatusCode, truncate(raw, 200))
	}
	if out == nil {
		return nil
	}
	if rawOut, ok := out.(*[]byte); ok {
		*rawOut = raw
		return nil
	}
	return json.Unmarshal(raw, out)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func (c *ARIClient) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/answer", nil, nil, nil)
}

func (c *ARIClient) Hangup(ctx context.Context, channelID, reason string) error {
	q := url.Values{}
	if reason != "" {
		q.Set("reason", reason)
	}
	return c.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(channelID), q, nil, nil)
}

func (c *ARIClient) Play(ctx context.Context, channelID, media string) (string, error) {
	q := url.Values{"media": {media}}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/play", q, nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *ARIClient) StartHold(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/moh", nil, nil, nil)
}

func (c *ARIClient) StopHold(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(channelID)+"/moh", nil, nil, nil)
}

func (c *ARIClient) Originate(ctx context.Context, endpoint, callerID string, appArgs []string) (string, error) {
	q := url.Values{
		"endpoint": {endpoint},
		"app":      {c.app},
		"appArgs":  {strings.Join(appArgs, ",")},
		"timeout":  {"45"},
	}
	if callerID != "" {
		q.Set("callerId", callerID)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/channels", q, nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *ARIClient) Record(ctx context.Context, channelID, name string, maxSeconds int) error {
	q := url.Values{
		"name":               {name},
		"format":             {"wav"},
		"maxDurationSeconds": {strconv.Itoa(maxSeconds)},
		"terminateOn":        {"#"},
		"ifExists":           {"overwrite"},
	}
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/record", q, nil, nil)
}

func (c *ARIClient) StoredRecording(ctx context.Context, name string) ([]byte, error) {
	var raw []byte
	err := c.do(ctx, http.MethodGet, "/recordings/stored/"+url.PathEscape(name)+"/file", nil, nil, &raw)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *ARIClient) CreateBridge(ctx context.Context) (string, error) {
	q := url.Values{"type": {"mixing"}}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/bridges", q, nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *ARIClient) AddToBridge(ctx context.Context, bridgeID, channelID string) error {
	q := url.Values{"channel": {channelID}}
	return c.do(ctx, http.MethodPost, "/bridges/"+url.PathEscape(bridgeID)+"/addChannel", q, nil, nil)
}

func (c *ARIClient) DestroyBridge(ctx context.Context, bridgeID string) error {
	return c.do(ctx, http.MethodDelete, "/bridges/"+url.PathEscape(bridgeID), nil, nil, nil)
}

func (c *ARIClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/asterisk/info", nil, nil, nil)
}

// Events opens the ARI event websocket and decodes events onto the returned
// channel until the connection drops or ctx is cancelled. The caller owns
// reconnection.
func (c *ARIClient) Events(ctx context.Context) (<-chan ariEvent, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	q := u.Query()
	q.Set("app", c.app)
	q.Set("api_key", c.user+":"+c.pass)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ari event stream: %w", err)
	}

	out := make(chan ariEvent, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		for {
			var ev ariEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					c.log.Warn("ari event stream closed", "err", err)
				}
				return
			}
			out <- ev
		}
	}()
	return out, nil
}
