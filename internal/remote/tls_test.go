package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"testing"

	"github.com/danmuck/ubind/internal/protocol/frame"
	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/testutil/testlog"
	"github.com/danmuck/ubind/internal/testutil/tlstest"
)

func TestTLSConfigValidate(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		cfg  TLSConfig
		want error
	}{
		{"disabled", TLSConfig{}, nil},
		{"mutual without tls", TLSConfig{Mutual: true}, ErrTLSRequired},
		{"no ca", TLSConfig{Enabled: true}, ErrTLSCAFileRequired},
		{"insecure skips ca", TLSConfig{Enabled: true, InsecureSkipVerify: true}, nil},
		{"mutual no cert", TLSConfig{Enabled: true, Mutual: true, CAFile: "ca.crt"}, ErrTLSCertFileRequired},
		{"mutual no key", TLSConfig{Enabled: true, Mutual: true, CAFile: "ca.crt", CertFile: "c.crt"}, ErrTLSKeyFileRequired},
	}
	for _, tc := range cases {
		if err := tc.cfg.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestDialMutualTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "ubind-test-ca")
	serverCfg := ca.ServerConfig(t, ca.Server(t, "runtime.local", "runtime.local"), true)
	client := ca.Client(t, "ubind-core")

	got := make(chan wire.Envelope, 1)
	cfg := DefaultDialConfig()
	cfg.Address = "runtime.local:54000"
	cfg.MaxAttempts = 1
	cfg.TLS = TLSConfig{Enabled: true, Mutual: true, CAFile: ca.CAFile(), CertFile: client.CertFile, KeyFile: client.KeyFile}
	cfg.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		local, peer := net.Pipe()
		go func() {
			defer peer.Close()
			srv := tls.Server(peer, serverCfg)
			if err := srv.Handshake(); err != nil {
				return
			}
			f, err := frame.ReadFrame(srv, frame.DefaultLimits())
			if err != nil {
				return
			}
			if env, err := wire.DecodeFrame(f); err == nil {
				got <- env
			}
		}()
		return local, nil
	}

	link, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer link.Close()
	if err := link.Send(wire.Envelope{ID: 1, Message: wire.RequestVariable{Variable: "Echo.last"}}); err != nil {
		t.Fatalf("send over tls: %v", err)
	}
	env := <-got
	if m, ok := env.Message.(wire.RequestVariable); !ok || m.Variable != "Echo.last" {
		t.Fatalf("unexpected message over tls: %+v", env)
	}

	cfg.TLS.Mutual = false
	cfg.TLS.CAFile = ""
	if _, err := Dial(context.Background(), cfg); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
}
