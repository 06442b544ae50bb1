package config

import (
	"github.com/danmuck/ubind/internal/binding"
	"github.com/danmuck/ubind/internal/protocol/frame"
	"github.com/danmuck/ubind/internal/remote"
)

func (c Config) BindingOptions() binding.Options {
	return binding.Options{
		ID:                 c.ContextID,
		Dialect:            c.Dialect,
		Workers:            c.Workers,
		SyncTimeout:        c.SyncTimeout,
		LegacyBlockingSync: c.LegacyBlockingSync,
		LocalClock:         c.LocalClock,
	}
}

func (c Config) DialConfig() remote.DialConfig {
	dc := remote.DefaultDialConfig()
	dc.Address = c.Remote.Address
	if c.Remote.DialTimeout > 0 {
		dc.DialTimeout = c.Remote.DialTimeout
	}
	dc.MaxAttempts = c.Remote.MaxConnectAttempts
	dc.TLS = c.Remote.TLS
	dc.Limits = frame.Limits{MaxPayloadBytes: c.Remote.MaxPayloadBytes}
	return dc
}
