package cli

import (
	"context"
	"errors"
	"time"

	"github.com/jrsteele09/sider-auth/bridge"
	"github.com/jrsteele09/sider-auth/kv"
	"github.com/jrsteele09/sider-auth/session"
	"github.com/spf13/cobra"
)

type SyncCmd struct {
	primary      kv.Store
	mirror       kv.Store
	pollInterval time.Duration
	out          printer
}

func NewSyncCmd(primary, mirror kv.Store, pollInterval time.Duration, out printer) SyncCmd {
	return SyncCmd{primary: primary, mirror: mirror, pollInterval: pollInterval, out: out}
}

type SyncInput struct {
	Once bool
}

func (s SyncCmd) Run(ctx context.Context, in SyncInput) error {
	b, err := bridge.New(s.primary, s.mirror, bridge.DefaultMappings(),
		bridge.WithPollInterval(s.pollInterval),
		bridge.WithProfileMirrors(session.PageLayout),
	)
	if err != nil {
		return err
	}

	if in.Once {
		if err := b.Start(ctx); err != nil {
			return err
		}
		s.out.success("Mirror synced from primary")
		return nil
	}

	s.out.info("Syncing every %s, press Ctrl+C to stop", s.pollInterval)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.out.success("Sync stopped")
	return nil
}

func newSyncCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror auth state between the primary and mirror stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")
			s, err := app.syncCmd(cmd)
			if err != nil {
				return err
			}
			return s.Run(cmd.Context(), SyncInput{Once: once})
		},
	}
	cmd.Flags().Bool("once", false, "copy the primary onto the mirror and exit")
	return cmd
}
