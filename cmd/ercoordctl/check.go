package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	monitoringplugin "github.com/dsh2dsh/go-monitoringplugin/v2"
	"github.com/spf13/cobra"

	"github.com/nmm0/ercoord/internal/procgroup"
	"github.com/nmm0/ercoord/internal/state"
)

// SetCheck is a Nagios-style check for one configured set's on-disk
// state, built as a fluent With*-configured value the same way the
// teacher's SnapCheck is — construct, configure, Run.
type SetCheck struct {
	name string
	resp *monitoringplugin.Response
}

func NewSetCheck(resp *monitoringplugin.Response) *SetCheck {
	return &SetCheck{resp: resp}
}

func (c *SetCheck) WithName(name string) *SetCheck {
	c.name = name
	return c
}

func (c *SetCheck) Run(ctx context.Context, gf *globalFlags) error {
	set, err := findSetConfig(gf, c.name)
	if err != nil {
		return err
	}

	view := procgroup.Views(1)[0]
	path := fmt.Sprintf("%s/%s.er.er", gf.cfg.Global.GroupDir, set.Name)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec, err := state.Read(ctx, log, view, path)
	if err != nil {
		c.resp.UpdateStatus(monitoringplugin.CRITICAL, fmt.Sprintf("%s: read state: %v", c.name, err))
		return nil
	}

	switch rec.State {
	case state.Encoded:
		c.resp.UpdateStatus(monitoringplugin.OK, fmt.Sprintf("%s: ENCODED (generation %d)", c.name, rec.Generation))
	case state.Corrupt:
		c.resp.UpdateStatus(monitoringplugin.CRITICAL, fmt.Sprintf("%s: CORRUPT, needs rebuild", c.name))
	case state.Null:
		c.resp.UpdateStatus(monitoringplugin.WARNING, fmt.Sprintf("%s: NULL, never encoded", c.name))
	}
	return nil
}

func newCheckCmd(gf *globalFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Nagios/Icinga-style health check for a configured set",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := monitoringplugin.NewResponse("set check")
			if err := NewSetCheck(resp).WithName(name).Run(cmd.Context(), gf); err != nil {
				return err
			}
			resp.OutputAndExit()
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "configured set name")
	return cmd
}
