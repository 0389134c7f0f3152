package client

import (
	"context"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Conn is the transport the client talks over. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// DialOptions describes where the server is.
type DialOptions struct {
	// Server is the server's network address, host:port.
	Server string

	// Secure selects wss:// instead of ws://.
	Secure bool

	// MaxElapsed bounds the total time spent retrying. Zero means one minute.
	MaxElapsed time.Duration

	Logger logrus.FieldLogger
}

// URL returns the WebSocket URL of the server.
func (o DialOptions) URL() string {
	u := url.URL{Scheme: "ws", Host: o.Server, Path: "/ws"}
	if o.Secure {
		u.Scheme = "wss"
	}
	return u.String()
}

// Dial connects to the server, retrying with exponential backoff until it succeeds,
// ctx is done or MaxElapsed has passed.
func Dial(ctx context.Context, opts DialOptions) (*websocket.Conn, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 2 * time.Minute,
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = opts.MaxElapsed
	if policy.MaxElapsedTime <= 0 {
		policy.MaxElapsedTime = time.Minute
	}

	var conn *websocket.Conn
	attempt := func() error {
		c, _, err := dialer.DialContext(ctx, opts.URL(), nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		opts.Logger.WithError(err).Warnf("dial %s failed, retrying in %s", opts.URL(), wait)
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, errors.Wrapf(err, "dial %s", opts.URL())
	}
	return conn, nil
}
