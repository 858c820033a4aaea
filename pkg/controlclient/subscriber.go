package controlclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/openclaw-gateway/internal/transport/codec"
)

const (
	// DefaultPushPath is the gateway's websocket endpoint.
	DefaultPushPath = "/client-ws"

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Subscriber receives commands over the gateway's push channel and
// reconnects when the connection drops.
type Subscriber struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	logger  *zap.Logger
	backoff time.Duration
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithReconnectDelay sets the first reconnect delay. Later attempts double
// it up to 30s.
func WithReconnectDelay(delay time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if delay > 0 {
			s.backoff = delay
		}
	}
}

// NewSubscriber derives the websocket URL from an http(s) or ws(s) base.
func NewSubscriber(baseURL string, logger *zap.Logger, opts ...SubscriberOption) (*Subscriber, error) {
	wsURL, err := pushURL(baseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Subscriber{
		url:     wsURL,
		header:  http.Header{},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger,
		backoff: initialBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// URL returns the websocket address.
func (s *Subscriber) URL() string {
	return s.url
}

// SetOrigin sends origin on the upgrade request. Browsers always do; Go
// agents only need it when the gateway is reached through a proxy that
// enforces one.
func (s *Subscriber) SetOrigin(origin string) {
	if origin == "" {
		s.header.Del("Origin")
		return
	}
	s.header.Set("Origin", origin)
}

func pushURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("gateway url has no host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + DefaultPushPath
	u.RawQuery = ""
	return u.String(), nil
}

// Run connects and delivers command payloads until ctx ends.
func (s *Subscriber) Run(ctx context.Context, deliver func(raw []byte)) error {
	delay := s.backoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			s.logger.Warn("control push connect failed", zap.String("url", s.url), zap.Error(err))
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			delay = nextBackoff(delay)
			continue
		}
		s.logger.Info("control push connected", zap.String("url", s.url))
		delay = s.backoff

		err = s.readLoop(ctx, conn, deliver)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("control push connection lost", zap.Error(err))
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay = nextBackoff(delay)
	}
}

func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn, deliver func(raw []byte)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		event, payload, err := codec.Decode(data)
		if err != nil {
			s.logger.Debug("control push frame ignored", zap.Error(err))
			continue
		}
		if event != codec.EventCommand || ctx.Err() != nil {
			continue
		}
		deliver(payload)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(delay time.Duration) time.Duration {
	if delay >= maxBackoff/2 {
		return maxBackoff
	}
	return delay * 2
}
