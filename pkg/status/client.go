package status

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/control"
)

// ErrForbidden is returned when the server requires a verified client certificate.
var ErrForbidden = errors.New("forbidden")

// Client talks to a status Server.
type Client struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
}

// NewClient creates a client for addr (host:port or URL). tlsCfg may be nil for plain HTTP.
func NewClient(addr string, tlsCfg *tls.Config) (*Client, error) {
	if !strings.Contains(addr, "://") {
		scheme := "http"
		if tlsCfg != nil {
			scheme = "https"
		}
		addr = scheme + "://" + addr
	}

	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", addr, err)
	}

	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
			TLSClientConfig:  tlsCfg,
		},
	}, nil
}

// ClientTLS builds a client TLS configuration. certFile and keyFile present
// a client certificate; caFile verifies the server. Empty arguments are skipped.
func ClientTLS(certFile, keyFile, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if caFile != "" {
		pool, err := loadCertPool(caFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// Status fetches the current report.
func (c *Client) Status(ctx context.Context) (Report, error) {
	var r Report
	err := c.do(ctx, http.MethodGet, "/status", nil, &r)
	return r, err
}

// Diagnostics fetches the loop counters.
func (c *Client) Diagnostics(ctx context.Context) (Diagnostics, error) {
	var d Diagnostics
	err := c.do(ctx, http.MethodGet, "/diagnostics", nil, &d)
	return d, err
}

// Configure sends a runtime update. Rejections wrap config.ErrRejected,
// a faulted controller yields control.ErrFaulted.
func (c *Client) Configure(ctx context.Context, u config.Update) (ControlReport, error) {
	var r ControlReport
	err := c.do(ctx, http.MethodPost, "/config", u, &r)
	return r, err
}

// Fault asks the controller to enter the faulted state.
func (c *Client) Fault(ctx context.Context, reason string) error {
	return c.do(ctx, http.MethodPost, "/fault", faultRequest{Reason: reason}, nil)
}

// Monitor streams reports to fn until ctx is done, the connection drops or fn returns an error.
func (c *Client) Monitor(ctx context.Context, fn func(Report) error) error {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to monitor stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var r Report
		if err := conn.ReadJSON(&r); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("monitor stream: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.base.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		switch resp.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrForbidden, e.Error)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", control.ErrFaulted, e.Error)
		case http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %s", config.ErrRejected, e.Error)
		default:
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
