// Package cli implements the sider command line client.
package cli

import (
	"context"
	"errors"

	"github.com/jrsteele09/sider-auth/auth"
	"github.com/jrsteele09/sider-auth/internal/config"
	"github.com/jrsteele09/sider-auth/internal/logging"
	"github.com/jrsteele09/sider-auth/internal/storage"
	"github.com/jrsteele09/sider-auth/kv"
	"github.com/jrsteele09/sider-auth/pinned"
	"github.com/jrsteele09/sider-auth/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// App holds the configuration and open stores shared by every command of one
// invocation.
type App struct {
	config  config.Config
	logger  zerolog.Logger
	apiURL  string
	primary string
	mirror  string
	verbose bool
	stores  map[string]kv.Store
}

// NewRootCmd builds the sider command tree.
func NewRootCmd() *cobra.Command {
	app := &App{stores: map[string]kv.Store{}}

	root := &cobra.Command{
		Use:           "sider",
		Short:         "Sign in to Sider and keep extension and page storage in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&app.apiURL, "api-url", "", "backend base URL (default $SIDER_API_URL)")
	flags.StringVar(&app.primary, "primary", "", "primary store (default $SIDER_PRIMARY_STORE)")
	flags.StringVar(&app.mirror, "mirror", "", "mirror store (default $SIDER_MIRROR_STORE)")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newLoginCmd(app),
		newRegisterCmd(app),
		newLogoutCmd(app),
		newWhoamiCmd(app),
		newTokenCmd(app),
		newRefreshCmd(app),
		newSyncCmd(app),
		newPinsCmd(app),
	)
	return root
}

func (a *App) init(cmd *cobra.Command) error {
	c, err := config.New()
	if err != nil {
		return err
	}
	a.config = c

	level := c.GetLogLevel()
	if a.verbose {
		level = "debug"
	}
	logging.SetupWriter(cmd.ErrOrStderr(), c.GetEnv(), level)
	a.logger = logging.Component("cli")

	if a.apiURL == "" {
		a.apiURL = c.GetAPIBaseURL()
	}
	if a.primary == "" {
		a.primary = c.GetPrimaryStore()
	}
	if a.mirror == "" {
		a.mirror = c.GetMirrorStore()
	}
	return nil
}

func (a *App) open(ctx context.Context, location string) (kv.Store, error) {
	if store, ok := a.stores[location]; ok {
		return store, nil
	}
	store, err := storage.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("store", location).Msg("Opened store")
	a.stores[location] = store
	return store, nil
}

func (a *App) close() error {
	var errs []error
	for location, store := range a.stores {
		errs = append(errs, kv.Close(store))
		delete(a.stores, location)
	}
	return errors.Join(errs...)
}

func (a *App) authService(ctx context.Context) (*auth.Service, error) {
	store, err := a.open(ctx, a.primary)
	if err != nil {
		return nil, err
	}
	cfg := auth.ConfigFrom(a.config)
	cfg.BaseURL = a.apiURL
	return auth.NewService(cfg, session.NewStore(store, session.ExtensionLayout), auth.WithLogger(logging.Component("auth")))
}

func (a *App) authCmd(cmd *cobra.Command) (AuthCmd, error) {
	service, err := a.authService(cmd.Context())
	if err != nil {
		return AuthCmd{}, err
	}
	return NewAuthCmd(service, printer{out: cmd.OutOrStdout()}), nil
}

func (a *App) pinsCmd(cmd *cobra.Command) (PinsCmd, error) {
	store, err := a.open(cmd.Context(), a.primary)
	if err != nil {
		return PinsCmd{}, err
	}
	return NewPinsCmd(pinned.New(store), printer{out: cmd.OutOrStdout()}), nil
}

func (a *App) syncCmd(cmd *cobra.Command) (SyncCmd, error) {
	primary, err := a.open(cmd.Context(), a.primary)
	if err != nil {
		return SyncCmd{}, err
	}
	mirror, err := a.open(cmd.Context(), a.mirror)
	if err != nil {
		return SyncCmd{}, err
	}
	return NewSyncCmd(primary, mirror, a.config.GetPollInterval(), printer{out: cmd.OutOrStdout()}), nil
}
