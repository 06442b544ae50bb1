package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/ubind/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

type DialConfig struct {
	Address     string
	DialTimeout time.Duration
	// HandshakeTimeout bounds the TLS handshake when TLS is enabled.
	HandshakeTimeout time.Duration
	TLS              TLSConfig
	// MaxAttempts of zero retries until ctx is done.
	MaxAttempts int
	Backoff     Backoff
	Limits      frame.Limits
	// DialContext overrides net.Dialer for tests.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)
}

func DefaultDialConfig() DialConfig {
	return DialConfig{
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		Backoff:          DefaultBackoff(),
		Limits:           frame.DefaultLimits(),
	}
}

// Dial connects to the remote runtime, retrying with backoff.
func Dial(ctx context.Context, cfg DialConfig) (*Link, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("remote: dial address is required")
	}
	if err := cfg.TLS.Validate(); err != nil {
		return nil, err
	}
	var tlsCfg *tls.Config
	if cfg.TLS.Enabled {
		var err error
		if tlsCfg, err = cfg.TLS.ClientConfig(cfg.Address); err != nil {
			return nil, err
		}
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		conn, err := cfg.connect(ctx, tlsCfg)
		if err == nil {
			log.Info().Str("address", cfg.Address).Int("attempt", attempt).Msg("remote.Dial connected")
			return NewLink(conn, cfg.Limits), nil
		}
		lastErr = err
		delay := cfg.Backoff.Delay(attempt, rng)
		log.Warn().Err(err).Str("address", cfg.Address).Int("attempt", attempt).Dur("retry_in", delay).Msg("remote.Dial failed")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("remote: dial %s: %w (last error: %v)", cfg.Address, ctx.Err(), lastErr)
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("remote: dial %s: gave up after %d attempts: %w", cfg.Address, cfg.MaxAttempts, lastErr)
}

func (cfg DialConfig) connect(ctx context.Context, tlsCfg *tls.Config) (net.Conn, error) {
	dial := cfg.DialContext
	if dial == nil {
		d := &net.Dialer{Timeout: cfg.DialTimeout}
		dial = d.DialContext
	}
	raw, err := dial(ctx, "tcp", cfg.Address)
	if err != nil || tlsCfg == nil {
		return raw, err
	}
	conn := tls.Client(raw, tlsCfg)
	hctx := ctx
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(hctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("remote: tls handshake: %w", err)
	}
	return conn, nil
}
