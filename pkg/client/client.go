// Package client calls the dashconfd JSON API over its Unix domain socket.
// It is used by the dashconf CLI and, through configsvc, by the dashboard.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/octodash/dashconf/internal/log"
	"github.com/octodash/dashconf/internal/socket"
	"github.com/octodash/dashconf/pkg/api"
	"github.com/octodash/dashconf/pkg/dashconfig"
)

// Client holds an http.Client wired to a Unix socket.
type Client struct {
	hc   *http.Client
	base string // dummy scheme+host for Request.URL (http://unix)

	mu         sync.Mutex
	subscriber string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	sock *socket.Socket
}

// WithSocket dials through sock, which controls startup retries and the
// daemon process check.
func WithSocket(sock *socket.Socket) Option {
	return func(o *clientOptions) { o.sock = sock }
}

// New returns a Client that dials the given Unix domain socket path.
func New(socketPath string, opts ...Option) *Client {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sock == nil {
		o.sock = socket.New(nil, nil)
	}

	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		return o.sock.Connect(ctx, socketPath)
	}
	tr := &http.Transport{DialContext: dial}
	return &Client{hc: &http.Client{Transport: tr}, base: "http://unix"}
}

// --------------------------- commands ------------------------------

// ReadConfig asks the daemon for the stored document. The result is a
// configRead or configError event.
func (c *Client) ReadConfig(ctx context.Context) (api.Event, error) {
	var ev api.Event
	err := c.do(ctx, http.MethodGet, "/v1/config", nil, &ev)
	return ev, err
}

// CheckConfig asks the daemon to validate cfg. The result is a configPass
// or configFail event.
func (c *Client) CheckConfig(ctx context.Context, cfg dashconfig.Config) (api.Event, error) {
	var ev api.Event
	err := c.do(ctx, http.MethodPost, "/v1/config/check", cfg, &ev)
	return ev, err
}

// SaveConfig asks the daemon to persist cfg. The result is a configSaved or
// configError event. If this client holds an event stream, the daemon does
// not echo the save on it.
func (c *Client) SaveConfig(ctx context.Context, cfg dashconfig.Config) (api.Event, error) {
	var ev api.Event
	err := c.do(ctx, http.MethodPut, "/v1/config", cfg, &ev)
	return ev, err
}

// NotifyUpdate tells the daemon a newer dashboard release is available.
func (c *Client) NotifyUpdate(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/update", nil, nil)
}

// Status retrieves the current status of the daemon.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

// SubscriberID returns the ID of the most recent event stream, if any.
func (c *Client) SubscriberID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriber
}

// Subscribe opens the event stream. The channel is closed when ctx is done
// or the daemon ends the stream.
func (c *Client) Subscribe(ctx context.Context) (<-chan api.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/events", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	id := resp.Header.Get(api.SubscriberHeader)
	c.mu.Lock()
	c.subscriber = id
	c.mu.Unlock()

	out := make(chan api.Event)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		dec := json.NewDecoder(resp.Body)
		for {
			var ev api.Event
			if err := dec.Decode(&ev); err != nil {
				if err != io.EOF && ctx.Err() == nil {
					log.Debugf("client: event stream %s ended: %v", id, err)
				}
				c.clearSubscriber(id)
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				c.clearSubscriber(id)
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) clearSubscriber(id string) {
	c.mu.Lock()
	if c.subscriber == id {
		c.subscriber = ""
	}
	c.mu.Unlock()
}

// --------------------------- HTTP helpers --------------------------

func (c *Client) do(ctx context.Context, method, path string, payload, v any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := c.SubscriberID(); id != "" {
		req.Header.Set(api.SubscriberHeader, id)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if text := strings.TrimSpace(string(msg)); text != "" {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, text)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
