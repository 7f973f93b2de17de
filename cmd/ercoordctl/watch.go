package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/bubbles/v2/table"
	"charm.land/lipgloss/v2"
	"github.com/dsh2dsh/cron/v3"
	"github.com/spf13/cobra"

	"github.com/nmm0/ercoord"
	"github.com/nmm0/ercoord/config"
	"github.com/nmm0/ercoord/internal/procgroup"
	"github.com/nmm0/ercoord/internal/state"
)

var watchHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))

type watchModel struct {
	gf   *globalFlags
	tbl  table.Model
	err  error
}

type tickMsg time.Time

func watchTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func newWatchModel(gf *globalFlags) watchModel {
	cols := []table.Column{
		{Title: "set", Width: 24},
		{Title: "state", Width: 10},
		{Title: "generation", Width: 10},
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(false), table.WithHeight(len(gf.cfg.Sets)+1))
	return watchModel{gf: gf, tbl: t}
}

func (m watchModel) Init() tea.Cmd { return watchTick() }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		rows, err := m.snapshot()
		if err != nil {
			m.err = err
			return m, watchTick()
		}
		m.tbl.SetRows(rows)
		return m, watchTick()
	}
	return m, nil
}

func (m watchModel) snapshot() ([]table.Row, error) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	view := procgroup.Views(1)[0]
	rows := make([]table.Row, 0, len(m.gf.cfg.Sets))
	for _, s := range m.gf.cfg.Sets {
		path := fmt.Sprintf("%s/%s.er.er", m.gf.cfg.Global.GroupDir, s.Name)
		rec, err := state.Read(ctx, log, view, path)
		if err != nil {
			rows = append(rows, table.Row{s.Name, "unknown", "-"})
			continue
		}
		rows = append(rows, table.Row{s.Name, rec.State.String(), fmt.Sprintf("%d", rec.Generation)})
	}
	return rows, nil
}

func (m watchModel) View() string {
	out := watchHeaderStyle.Render("ercoordctl watch") + "\n" + m.tbl.View()
	if m.err != nil {
		out += "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render(m.err.Error())
	}
	out += "\n(press q to quit)\n"
	return out
}

// scheduleRebuilds starts a cron scheduler that re-dispatches REBUILD
// for any configured set found CORRUPT, on each set's own RebuildCron
// cadence, the same "watch and retry" role the teacher assigns its
// snapper daemon.
func scheduleRebuilds(gf *globalFlags, log *slog.Logger) (*cron.Cron, error) {
	c := cron.New()
	for _, s := range gf.cfg.Sets {
		s := s
		if _, err := c.AddFunc(s.RebuildCron, func() {
			rebuildIfCorrupt(gf, log, &s)
		}); err != nil {
			return nil, fmt.Errorf("watch: schedule %s: %w", s.Name, err)
		}
	}
	c.Start()
	return c, nil
}

func rebuildIfCorrupt(gf *globalFlags, log *slog.Logger, s *config.SetConfig) {
	ctx := context.Background()
	view := procgroup.Views(1)[0]
	path := fmt.Sprintf("%s/%s.er.er", gf.cfg.Global.GroupDir, s.Name)
	rec, err := state.Read(ctx, log, view, path)
	if err != nil || rec.State != state.Corrupt {
		return
	}

	lib, err := openLibrary(gf)
	if err != nil {
		log.Error("watch: open library", "set", s.Name, "err", err)
		return
	}
	defer lib.Finalize()

	setID, err := lib.CreateSet(s.Name, ercoord.Rebuild, view, view, ercoord.Fail)
	if err != nil {
		log.Error("watch: create rebuild set", "set", s.Name, "err", err)
		return
	}
	defer lib.FreeSet(setID)

	if err := lib.Dispatch(ctx, setID); err != nil {
		log.Error("watch: rebuild failed", "set", s.Name, "err", err)
		return
	}
	log.Info("watch: rebuilt", "set", s.Name)
}

func newWatchCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live-view set states and auto-retry rebuilds on CORRUPT sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.Default()
			c, err := scheduleRebuilds(gf, log)
			if err != nil {
				return err
			}
			defer c.Stop()

			p := tea.NewProgram(newWatchModel(gf))
			_, err = p.Run()
			return err
		},
	}
	return cmd
}
