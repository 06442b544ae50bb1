package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/danmuck/ubind/internal/auth"
	"github.com/danmuck/ubind/internal/binding"
	"github.com/danmuck/ubind/internal/config"
	"github.com/danmuck/ubind/internal/observability"
	"github.com/danmuck/ubind/internal/remote"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	configPath string
	address    string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the remote runtime and host bound objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to ubind.toml (defaults apply when empty)")
	cmd.Flags().StringVar(&opts.address, "address", "", "remote runtime address, overrides [remote].address")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runServe(parent context.Context, opts *serveOptions) error {
	logger := observability.InitLogger("ubindctl")
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.address != "" {
		cfg.Remote.Address = opts.address
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	link, err := remote.Dial(ctx, cfg.DialConfig())
	if err != nil {
		return err
	}
	defer link.Close()

	reg := binding.NewRegistry()
	echo := RegisterEcho(reg)
	bctx := binding.NewContext(reg, link, cfg.BindingOptions())
	defer bctx.Close()

	if cfg.Admin.Address != "" {
		var validator auth.Validator
		if cfg.Admin.Token != "" {
			validator = auth.StaticToken{Token: cfg.Admin.Token}
		}
		router := observability.AdminRouter(logger, func() map[string]any {
			return map[string]any{
				"context":   bctx.ID(),
				"objects":   len(bctx.Objects()),
				"destroyed": bctx.Destroyed(),
			}
		}, validator)
		go func() {
			if err := observability.ServeAdmin(ctx, cfg.Admin.Address, router); err != nil {
				log.Error().Err(err).Str("address", cfg.Admin.Address).Msg("cli.serve admin")
			}
		}()
	}

	log.Info().
		Str("ctx", bctx.ID()).
		Str("remote", cfg.Remote.Address).
		Str("class", echo).
		Str("dialect", cfg.Dialect.String()).
		Msg("cli.serve ready")
	return link.Serve(ctx, bctx)
}
