package cli

import (
	"fmt"

	"github.com/danmuck/ubind/internal/config"
	"github.com/spf13/cobra"
)

func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check a ubind.toml",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "ubind.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load a config and print the effective settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), rootOpts.Format, effectiveConfig(cfg), func() string {
				return fmt.Sprintf("valid: context_id=%s dialect=%s workers=%d remote=%s\n",
					cfg.ContextID, cfg.Dialect, cfg.Workers, cfg.Remote.Address)
			})
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

type configView struct {
	ContextID          string `json:"context_id" yaml:"context_id"`
	Dialect            string `json:"dialect" yaml:"dialect"`
	Workers            int    `json:"workers" yaml:"workers"`
	SyncTimeout        string `json:"sync_timeout" yaml:"sync_timeout"`
	LegacyBlockingSync bool   `json:"legacy_blocking_sync" yaml:"legacy_blocking_sync"`
	LocalClock         bool   `json:"local_clock" yaml:"local_clock"`
	RemoteAddress      string `json:"remote_address" yaml:"remote_address"`
	AdminAddress       string `json:"admin_address,omitempty" yaml:"admin_address,omitempty"`
}

func effectiveConfig(cfg config.Config) configView {
	return configView{
		ContextID:          cfg.ContextID,
		Dialect:            cfg.Dialect.String(),
		Workers:            cfg.Workers,
		SyncTimeout:        cfg.SyncTimeout.String(),
		LegacyBlockingSync: cfg.LegacyBlockingSync,
		LocalClock:         cfg.LocalClock,
		RemoteAddress:      cfg.Remote.Address,
		AdminAddress:       cfg.Admin.Address,
	}
}
