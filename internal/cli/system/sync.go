package system

import (
	"context"
	"fmt"
	"time"

	"github.com/julianstephens/habitgarden/internal/cli"
	"github.com/julianstephens/habitgarden/internal/lockfile"
	"github.com/julianstephens/habitgarden/internal/models"
	"github.com/julianstephens/habitgarden/internal/syncservice"
)

type SyncCmd struct{}

func (c *SyncCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	sess, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer sess.Close()

	res, err := sess.Service.Sync(bg)
	if err != nil {
		return err
	}

	fmt.Printf("Synced %d habit(s): %d added, %d updated, %d completion(s)\n",
		res.Habits, res.Added, res.Updated, res.Completions)
	if st := sess.Service.Status(); st.Pending > 0 || len(st.Failed) > 0 {
		fmt.Printf("  %d pending, %d failed\n", st.Pending, len(st.Failed))
	}
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	sess, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Print(formatStatus(sess.Service.Status(), time.Now()))
	if info, ok := lockfile.Running(lockfile.Path(sess.Config.Dir)); ok {
		fmt.Printf("Daemon:      running (pid %d)\n", info.PID)
		if info.MetricsAddr != "" {
			fmt.Printf("Metrics:     http://%s/metrics\n", info.MetricsAddr)
		}
	} else {
		fmt.Println("Daemon:      not running")
	}
	return nil
}

func formatStatus(st syncservice.Status, now time.Time) string {
	online := "offline"
	if st.Online {
		online = "online"
	}

	last := "never"
	if st.LastSynced != nil {
		last = fmt.Sprintf("%s (%s ago)", st.LastSynced.Local().Format(time.DateTime), now.Sub(*st.LastSynced).Round(time.Second))
	}

	out := fmt.Sprintf("Remote:      %s\nLast synced: %s\nPending:     %d\nFailed:      %d\n",
		online, last, st.Pending, len(st.Failed))
	for _, op := range st.Failed {
		out += "  " + formatOperation(op) + "\n"
	}
	return out
}

func formatOperation(op models.PendingOperation) string {
	s := fmt.Sprintf("%-6s %s on %s  %s", op.Kind, op.HabitID, cli.FormatDay(op.Day), op.Status)
	if op.RetryCount > 0 {
		s += fmt.Sprintf(" (%d attempt(s))", op.RetryCount)
	}
	if op.LastError != "" {
		s += ": " + op.LastError
	}
	return s
}

type QueueCmd struct {
	List  QueueListCmd  `cmd:"" help:"List queued completion changes." default:"1"`
	Retry QueueRetryCmd `cmd:"" help:"Retry changes that exhausted their attempts."`
}

type QueueListCmd struct{}

func (c *QueueListCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	sess, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer sess.Close()

	ops := sess.Service.Queue()
	if len(ops) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}
	for _, op := range ops {
		fmt.Println(formatOperation(op))
	}
	return nil
}

type QueueRetryCmd struct{}

func (c *QueueRetryCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	sess, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer sess.Close()

	n, err := sess.Service.RetryFailed(bg)
	if err != nil {
		return err
	}
	st := sess.Service.Status()
	fmt.Printf("Requeued %d operation(s); %d still pending, %d failed\n", n, st.Pending, len(st.Failed))
	return nil
}
