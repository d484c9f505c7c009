package system

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitgarden/internal/cli"
	"github.com/julianstephens/habitgarden/internal/tui"
)

type TuiCmd struct{}

func (c *TuiCmd) Run(ctx *cli.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := ctx.Open(runCtx)
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.PerformAutomaticBackup(runCtx)

	if err := sess.Service.Start(runCtx); err != nil {
		return err
	}

	loc, err := sess.Config.Location()
	if err != nil {
		return err
	}

	p := tea.NewProgram(tui.NewModel(runCtx, sess.Service, loc), tea.WithAltScreen(), tea.WithReportFocus())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("alas, there's been an error: %w", err)
	}
	return nil
}
