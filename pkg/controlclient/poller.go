// Package controlclient implements the front-end side of the control
// channel: sources that fetch command payloads from a running gateway.
package controlclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPollInterval matches the browser front-end's polling cadence.
	DefaultPollInterval = time.Second
	// DefaultControlPath is where the gateway serves the control document.
	DefaultControlPath = "/openclaw-control.json"

	maxDocumentBytes = 64 << 10
)

var errNotCommand = errors.New("document is not a command object")

// Poller fetches the control document on a fixed interval. A fetch that
// fails or returns something that does not look like a command is skipped
// for that tick.
type Poller struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval overrides DefaultPollInterval.
func WithInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) PollerOption {
	return func(p *Poller) {
		if client != nil {
			p.client = client
		}
	}
}

// NewPoller polls baseURL + DefaultControlPath.
func NewPoller(baseURL string, logger *zap.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		url:      strings.TrimRight(baseURL, "/") + DefaultControlPath,
		interval: DefaultPollInterval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// URL returns the document address being polled.
func (p *Poller) URL() string {
	return p.url
}

// Run polls until ctx ends. Each tick's fetch completes before the next one
// starts, so deliveries are strictly sequential.
func (p *Poller) Run(ctx context.Context, deliver func(raw []byte)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.tick(ctx, deliver)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context, deliver func(raw []byte)) {
	raw, err := p.fetch(ctx)
	if err != nil {
		p.logger.Debug("control poll skipped", zap.String("url", p.url), zap.Error(err))
		return
	}
	// A response that lands after shutdown is dropped.
	if ctx.Err() != nil {
		return
	}
	deliver(raw)
}

func (p *Poller) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, err
	}
	if !looksLikeCommand(raw) {
		return nil, errNotCommand
	}
	return raw, nil
}

// looksLikeCommand is the cheap shape check done before handing a document
// to the consumer: a JSON object whose command is a string.
func looksLikeCommand(raw []byte) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return false
	}
	command, ok := doc["command"]
	if !ok || string(command) == "null" {
		return false
	}
	var name string
	return json.Unmarshal(command, &name) == nil
}
