package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/ubind/internal/binding"
	"github.com/danmuck/ubind/internal/observability"
	"github.com/danmuck/ubind/internal/protocol/frame"
	"github.com/danmuck/ubind/internal/protocol/schema"
	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

var ErrLinkClosed = errors.New("remote: link closed")

// Deliverer receives decoded inbound envelopes. *binding.Context satisfies it.
type Deliverer interface {
	Deliver(env wire.Envelope) error
}

var _ binding.Transport = (*Link)(nil)

// Link is a binding.Transport over one framed stream.
type Link struct {
	conn   io.ReadWriteCloser
	limits frame.Limits

	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

func NewLink(conn io.ReadWriteCloser, limits frame.Limits) *Link {
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	return &Link{conn: conn, limits: limits}
}

// Send writes env as a single frame.
func (l *Link) Send(env wire.Envelope) error {
	if l.closed.Load() {
		return ErrLinkClosed
	}
	buf, err := wire.EncodeFrame(env, l.limits)
	if err != nil {
		return err
	}
	l.wmu.Lock()
	_, err = l.conn.Write(buf)
	l.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("remote: write %s: %w", schema.Name(env.Message.MessageType()), err)
	}
	observability.RecordFrame("out", schema.Name(env.Message.MessageType()))
	return nil
}

// Serve reads frames until the stream ends, ctx is cancelled or the target
// closes. Payloads that fail to decode are logged and skipped; header errors
// end the session since the stream can no longer be trusted.
func (l *Link) Serve(ctx context.Context, target Deliverer) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	for {
		f, err := frame.ReadFrame(l.conn, l.limits)
		if err != nil {
			if l.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Info().Msg("remote.Link.Serve stream closed")
				return nil
			}
			return fmt.Errorf("remote: read frame: %w", err)
		}
		name := schema.Name(f.Header.MessageType)
		observability.RecordFrame("in", name)

		env, err := wire.DecodeFrame(f)
		if err != nil {
			log.Warn().Err(err).Str("message", name).Uint64("id", f.Header.MessageID).Msg("remote.Link.Serve decode")
			continue
		}
		if err := target.Deliver(env); err != nil {
			if errors.Is(err, binding.ErrClosed) {
				return nil
			}
			log.Warn().Err(err).Str("message", name).Msg("remote.Link.Serve deliver")
		}
	}
}

func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		err = l.conn.Close()
	})
	return err
}
