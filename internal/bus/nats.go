// internal/bus/nats.go
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tendant/simple-convert-tracker/internal/stream"
)

type Client struct{ nc *nats.Conn }

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(subject, b); err != nil {
		return err
	}
	return c.nc.Flush()
}

// Transport subscribes to the progress subject. Each Dial opens a fresh
// connection with client-side reconnect disabled, so a dropped server surfaces
// as a Receive error and the stream's own backoff decides when to come back.
type Transport struct {
	URL     string
	Subject string
	Timeout time.Duration
	Name    string
}

var _ stream.Transport = (*Transport)(nil)

func NewTransport(url, subject string) *Transport {
	return &Transport{URL: url, Subject: subject, Timeout: 5 * time.Second, Name: "convert-tracker"}
}

func (t *Transport) Dial(ctx context.Context) (stream.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(t.URL,
		nats.NoReconnect(),
		nats.Timeout(t.Timeout),
		nats.Name(t.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", t.URL, err)
	}
	sub, err := nc.SubscribeSync(t.Subject)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", t.Subject, err)
	}
	return &subscription{nc: nc, sub: sub}, nil
}

type subscription struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

func (s *subscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return nil, fmt.Errorf("%w: %v", stream.ErrClosed, err)
		}
		return nil, err
	}
	return msg.Data, nil
}

func (s *subscription) Close() error {
	if s.nc.IsClosed() {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.nc.Close()
	return err
}
