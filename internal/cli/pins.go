package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jrsteele09/sider-auth/pinned"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type PinsCmd struct {
	actions *pinned.Actions
	out     printer
}

func NewPinsCmd(actions *pinned.Actions, out printer) PinsCmd {
	return PinsCmd{actions: actions, out: out}
}

type PinInput struct {
	Action string
}

func (p PinsCmd) List(ctx context.Context) error {
	actions, err := p.actions.List(ctx)
	if err != nil {
		return err
	}
	return p.print(actions)
}

func (p PinsCmd) Add(ctx context.Context, in PinInput) error {
	actions, err := p.actions.Pin(ctx, in.Action)
	if err != nil {
		return err
	}
	p.out.success("Pinned %s", in.Action)
	return p.print(actions)
}

func (p PinsCmd) Remove(ctx context.Context, in PinInput) error {
	actions, err := p.actions.Unpin(ctx, in.Action)
	if err != nil {
		return err
	}
	p.out.success("Unpinned %s", in.Action)
	return p.print(actions)
}

func (p PinsCmd) Toggle(ctx context.Context, in PinInput) error {
	actions, err := p.actions.Toggle(ctx, in.Action)
	if err != nil {
		return err
	}
	pinnedNow, err := p.actions.IsPinned(ctx, in.Action)
	if err != nil {
		return err
	}
	if pinnedNow {
		p.out.success("Pinned %s", in.Action)
	} else {
		p.out.success("Unpinned %s", in.Action)
	}
	return p.print(actions)
}

func (p PinsCmd) Reset(ctx context.Context) error {
	actions, err := p.actions.Reset(ctx)
	if err != nil {
		return err
	}
	p.out.success("Restored the default pinned actions")
	return p.print(actions)
}

func (p PinsCmd) print(actions []string) error {
	if len(actions) == 0 {
		p.out.info("No pinned actions")
		return nil
	}
	rows := pterm.TableData{{"#", "Action"}}
	for i, action := range actions {
		rows = append(rows, []string{strconv.Itoa(i + 1), action})
	}
	return p.out.table(rows)
}

func newPinsCmd(app *App) *cobra.Command {
	pins := &cobra.Command{
		Use:   "pins",
		Short: "Manage pinned quick actions",
	}

	run := func(fn func(PinsCmd, *cobra.Command, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			p, err := app.pinsCmd(cmd)
			if err != nil {
				return err
			}
			return fn(p, cmd, args)
		}
	}

	pins.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List pinned actions",
			Args:  cobra.NoArgs,
			RunE: run(func(p PinsCmd, cmd *cobra.Command, _ []string) error {
				return p.List(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "add <action>",
			Short: "Pin an action",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(p PinsCmd, cmd *cobra.Command, args []string) error {
				return p.Add(cmd.Context(), PinInput{Action: args[0]})
			}),
		},
		&cobra.Command{
			Use:   "remove <action>",
			Short: "Unpin an action",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(p PinsCmd, cmd *cobra.Command, args []string) error {
				return p.Remove(cmd.Context(), PinInput{Action: args[0]})
			}),
		},
		&cobra.Command{
			Use:   "toggle <action>",
			Short: "Pin an action if it is not pinned, unpin it otherwise",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(p PinsCmd, cmd *cobra.Command, args []string) error {
				return p.Toggle(cmd.Context(), PinInput{Action: args[0]})
			}),
		},
		&cobra.Command{
			Use:   "reset",
			Short: fmt.Sprintf("Restore the default pinned actions (%v)", pinned.DefaultActions()),
			Args:  cobra.NoArgs,
			RunE: run(func(p PinsCmd, cmd *cobra.Command, _ []string) error {
				return p.Reset(cmd.Context())
			}),
		},
	)
	return pins
}
