package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"courtroom/api/internal/court"
)

const (
	DefaultReconnectBase     = time.Second
	DefaultReconnectAttempts = 5
)

// ChannelDialer opens and registers a push channel.
type ChannelDialer func(ctx context.Context, onPush func(court.View)) (Channel, error)

// WSDialer adapts DialWS to a ChannelDialer.
func WSDialer(cfg WSConfig) ChannelDialer {
	return func(ctx context.Context, onPush func(court.View)) (Channel, error) {
		return DialWS(ctx, cfg, onPush)
	}
}

// Connector keeps a push channel attached to a Store. Every successful
// (re)connect refetches the view and flushes queued actions.
type Connector struct {
	dial     ChannelDialer
	store    *Store
	base     time.Duration
	attempts int
	log      *logrus.Logger
	sleep    func(context.Context, time.Duration) error
}

type ConnectorOption func(*Connector)

func WithBackoff(base time.Duration, attempts int) ConnectorOption {
	return func(c *Connector) {
		c.base = base
		c.attempts = attempts
	}
}

func WithConnectorLogger(log *logrus.Logger) ConnectorOption {
	return func(c *Connector) { c.log = log }
}

func NewConnector(dial ChannelDialer, store *Store, opts ...ConnectorOption) *Connector {
	c := &Connector{
		dial:     dial,
		store:    store,
		base:     DefaultReconnectBase,
		attempts: DefaultReconnectAttempts,
		log:      store.log,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	if c.base <= 0 {
		c.base = DefaultReconnectBase
	}
	return c
}

// Run connects and reconnects until ctx is done. It returns an error
// wrapping ErrUnavailable once a reconnect gives up; the store keeps
// working over REST after that.
func (c *Connector) Run(ctx context.Context) error {
	for {
		channel, err := c.connect(ctx)
		if err != nil {
			return err
		}
		c.store.SetChannel(channel)
		c.store.Refetch(ctx)
		c.store.Flush(ctx)

		select {
		case <-ctx.Done():
			c.store.SetChannel(nil)
			_ = channel.Close()
			return ctx.Err()
		case <-channel.Done():
			c.store.SetChannel(nil)
			c.log.Warn("push channel closed, reconnecting")
		}
	}
}

func (c *Connector) connect(ctx context.Context) (Channel, error) {
	delay := c.base
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		channel, err := c.dial(ctx, c.store.HandlePush)
		if err == nil {
			if attempt > 1 {
				c.log.WithField("attempt", attempt).Info("push channel reconnected")
			}
			return channel, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
		c.log.WithError(err).WithField("attempt", attempt).Warn("push channel dial failed")
		if attempt == c.attempts {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts: %v", ErrUnavailable, c.attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
