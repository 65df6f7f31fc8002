package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"remindflow/internal/config"
	"remindflow/internal/logging"
	"remindflow/internal/store"
)

type app struct {
	cfgFile string
	cfg     *config.Config
	log     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "remindflow",
		Short:         "Natural-language reminders delivered over a webhook",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.Setup(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (yaml, toml or json)")

	root.AddCommand(newServeCmd(a), newChatCmd(a), newMigrateCmd(a))
	return root
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, a.cfg.Store.Driver, a.cfg.Store.Path, a.cfg.Store.URL)
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			a.log.Info().Str("driver", a.cfg.Store.Driver).Msg("schema up to date")
			return s.Close()
		},
	}
}
