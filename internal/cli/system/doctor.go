package system

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/julianstephens/habitgarden/internal/backup"
	"github.com/julianstephens/habitgarden/internal/cache"
	"github.com/julianstephens/habitgarden/internal/cli"
	"github.com/julianstephens/habitgarden/internal/config"
	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/keyring"
	"github.com/julianstephens/habitgarden/internal/lockfile"
	"github.com/julianstephens/habitgarden/internal/utils"
)

type DoctorCmd struct{}

type checkResult int

const (
	checkOK checkResult = iota
	checkWarn
	checkFail
	checkSkipped
)

type check struct {
	name string
	run  func(ctx context.Context) (checkResult, string)
}

func (cmd *DoctorCmd) Run(ctx *cli.Context) error {
	fmt.Println("Running diagnostics...")
	fmt.Println()

	cfg, err := ctx.Config()
	if err != nil {
		fmt.Printf("❌ Config: FAIL\n")
		fmt.Printf("   Error: %v\n", err)
		return fmt.Errorf("one or more health checks failed")
	}
	fmt.Printf("✓ Config: OK (%s)\n", ctx.ConfigPath)

	hasError := false
	for _, c := range doctorChecks(cfg) {
		bg, cancel := context.WithTimeout(context.Background(), constants.DefaultRemoteTimeout)
		res, detail := c.run(bg)
		cancel()

		switch res {
		case checkOK:
			fmt.Printf("✓ %s: OK\n", c.name)
		case checkWarn:
			fmt.Printf("⚠ %s: WARNING\n", c.name)
		case checkFail:
			fmt.Printf("❌ %s: FAIL\n", c.name)
			hasError = true
		case checkSkipped:
			fmt.Printf("⊘ %s: SKIPPED\n", c.name)
		}
		if detail != "" {
			fmt.Printf("   %s\n", detail)
		}
	}

	fmt.Println()
	if hasError {
		fmt.Println("Diagnostics completed with errors.")
		return fmt.Errorf("one or more health checks failed")
	}
	fmt.Println("All diagnostics passed!")
	return nil
}

func doctorChecks(cfg *config.Config) []check {
	return []check{
		{"Remote reachable", func(ctx context.Context) (checkResult, string) { return checkRemote(ctx, cfg) }},
		{"Cache readable", func(ctx context.Context) (checkResult, string) { return checkCache(ctx, cfg) }},
		{"Backups present", func(ctx context.Context) (checkResult, string) { return checkBackups(cfg) }},
		{"Keyring", func(ctx context.Context) (checkResult, string) { return checkKeyring(cfg) }},
		{"Daemon", func(ctx context.Context) (checkResult, string) { return checkDaemon(cfg) }},
		{"Clock/timezone", func(ctx context.Context) (checkResult, string) { return checkClock(cfg, time.Now()) }},
	}
}

func checkRemote(ctx context.Context, cfg *config.Config) (checkResult, string) {
	rs, err := cli.OpenRemote(ctx, cfg)
	if err != nil {
		return checkFail, fmt.Sprintf("Error: %v", err)
	}
	defer rs.Close()

	if err := rs.Ping(ctx); err != nil {
		return checkFail, fmt.Sprintf("Error: %v", err)
	}
	return checkOK, ""
}

func checkCache(ctx context.Context, cfg *config.Config) (checkResult, string) {
	sub, err := cli.OpenSubstrate(cfg)
	if err != nil {
		return checkFail, fmt.Sprintf("Error: %v", err)
	}
	defer sub.Close()

	c := cache.New(sub)
	env, ok := c.Load(ctx)
	if !ok {
		return checkWarn, "No usable cache yet; it will be rebuilt from the remote store on the next run"
	}

	failed := 0
	for _, op := range env.Queue {
		if op.Abandoned(constants.MaxRetries) {
			failed++
		}
	}
	detail := fmt.Sprintf("%d habit(s), %d queued change(s)", len(env.Habits), len(env.Queue))
	if failed > 0 {
		return checkWarn, detail + fmt.Sprintf(", %d failed (run 'habitgarden queue retry')", failed)
	}
	return checkOK, detail
}

func checkBackups(cfg *config.Config) (checkResult, string) {
	// Listing never touches the substrate
	backups, err := backup.NewManager(nil, cfg.Dir).ListBackups()
	if err != nil {
		return checkWarn, fmt.Sprintf("Error: %v", err)
	}
	if len(backups) == 0 {
		return checkWarn, "No backups found, consider creating one with 'habitgarden backup create'"
	}
	return checkOK, fmt.Sprintf("latest %s", backups[0].Timestamp.Local().Format(time.DateTime))
}

func checkKeyring(cfg *config.Config) (checkResult, string) {
	if cfg.Remote.Driver != config.DriverPostgres || cfg.Remote.DSN != "" {
		return checkSkipped, "not used by this configuration"
	}
	if !keyring.IsAvailable() {
		return checkWarn, "OS keyring is not available; set $" + constants.EnvRemoteDSN + " instead"
	}
	return checkOK, ""
}

func checkDaemon(cfg *config.Config) (checkResult, string) {
	path := lockfile.Path(cfg.Dir)
	if info, ok := lockfile.Running(path); ok {
		return checkOK, fmt.Sprintf("running (pid %d)", info.PID)
	}
	if _, err := os.Stat(path); err == nil {
		return checkWarn, "stale lockfile at " + path + "; the next daemon start replaces it"
	}
	return checkSkipped, "not running"
}

func checkClock(cfg *config.Config, now time.Time) (checkResult, string) {
	if now.Year() < 2020 || now.Year() > 2100 {
		return checkFail, fmt.Sprintf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	loc, err := cfg.Location()
	if err != nil {
		return checkFail, fmt.Sprintf("Error: %v", err)
	}
	return checkOK, fmt.Sprintf("today is %s in %s", utils.Today(now, loc), loc)
}
