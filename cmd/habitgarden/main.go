package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/habitgarden/internal/cli"
	"github.com/julianstephens/habitgarden/internal/cli/backups"
	"github.com/julianstephens/habitgarden/internal/cli/habits"
	"github.com/julianstephens/habitgarden/internal/cli/system"
	"github.com/julianstephens/habitgarden/internal/config"
	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/errors"
	"github.com/julianstephens/habitgarden/internal/logger"
)

type App struct {
	Version kong.VersionFlag
	Config  string `help:"Config file path (.yaml or .toml)." type:"string" default:"${config_path}" env:"HABITGARDEN_CONFIG"`
	Debug   bool   `help:"Enable debug logging to stderr."`

	Init   system.InitCmd        `cmd:"" help:"Create a config file."`
	Tui    system.TuiCmd         `cmd:"" help:"Launch the interactive TUI." default:"1"`
	List   habits.HabitListCmd   `cmd:"" help:"List habits with today's status and streaks."`
	Add    habits.HabitAddCmd    `cmd:"" help:"Add a new habit."`
	Edit   habits.HabitEditCmd   `cmd:"" help:"Edit a habit."`
	Delete habits.HabitDeleteCmd `cmd:"" help:"Delete a habit and its history."`
	Toggle habits.HabitToggleCmd `cmd:"" help:"Toggle today's completion of a habit."`
	Log    habits.HabitLogCmd    `cmd:"" help:"Show habit log (ASCII history)."`
	Sync   system.SyncCmd        `cmd:"" help:"Push queued changes and pull from the remote store."`
	Status system.StatusCmd      `cmd:"" help:"Show connectivity, last sync and queue state."`
	Queue  system.QueueCmd       `cmd:"" help:"Inspect and retry queued completion changes."`
	Daemon system.DaemonCmd      `cmd:"" help:"Keep the cache in sync in the background."`
	Secret system.SecretCmd      `cmd:"" help:"Manage the remote connection string in the OS keyring."`
	Doctor system.DoctorCmd      `cmd:"" help:"Run health checks and diagnostics."`
	Backup backups.BackupCmd     `cmd:"" help:"Manage cache backups."`
}

var CLI App

func options() []kong.Option {
	return []kong.Option{
		kong.Name(constants.AppName),
		kong.Description("Local-first habit tracker with offline completion sync"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version":     constants.Version,
			"config_path": filepath.Join(constants.DefaultConfigDir, constants.DefaultConfigFile),
		},
	}
}

func main() {
	ctx := kong.Parse(&CLI, options()...)

	configDir := filepath.Dir(config.ExpandHome(CLI.Config))
	if err := logger.Init(logger.Config{Debug: CLI.Debug, ConfigDir: configDir}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}

	appCtx := &cli.Context{
		ConfigPath: CLI.Config,
		Debug:      CLI.Debug,
	}

	errors.Fatal(ctx.Run(appCtx))
}
