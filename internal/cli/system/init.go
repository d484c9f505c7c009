package system

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/habitgarden/internal/cli"
	"github.com/julianstephens/habitgarden/internal/config"
	"github.com/julianstephens/habitgarden/internal/remote"
)

type InitCmd struct {
	Force    bool   `help:"Overwrite an existing config file."`
	UserID   string `help:"User id to sync as (default: a new random id)."`
	Timezone string `help:"IANA timezone that decides what 'today' is." default:"Local"`
	Remote   string `help:"Remote store driver." enum:"sqlite,postgres" default:"sqlite"`
	DSN      string `help:"PostgreSQL connection string without a password. Leave empty to use $HABITGARDEN_REMOTE_DSN or the OS keyring."`
	Cache    string `help:"Local cache driver." enum:"sqlite,file,memory" default:"sqlite"`
}

func (c *InitCmd) Run(ctx *cli.Context) error {
	path := config.ExpandHome(ctx.ConfigPath)
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to access existing config: %w", err)
	}

	if c.DSN != "" {
		if err := remote.ValidateConnString(c.DSN); err != nil {
			if errors.Is(err, remote.ErrEmbeddedCredentials) {
				return fmt.Errorf("the connection string embeds a password; store it with `habitgarden secret set` instead")
			}
			return err
		}
	}

	cfg := config.Default("")
	cfg.UserID = strings.TrimSpace(c.UserID)
	if cfg.UserID == "" {
		cfg.UserID = uuid.New().String()
	}
	cfg.Timezone = c.Timezone
	cfg.Remote.Driver = c.Remote
	cfg.Remote.DSN = c.DSN
	cfg.Cache.Driver = c.Cache
	if c.Cache == config.DriverFile {
		cfg.Cache.Path = "cache"
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}

	fmt.Printf("Initialized habitgarden config at: %s\n", path)
	fmt.Printf("  user id: %s\n", cfg.UserID)
	fmt.Printf("  remote:  %s\n", cfg.Remote.Driver)
	fmt.Printf("  cache:   %s\n", cfg.Cache.Driver)
	fmt.Printf("  reconcile every %s while visible\n", cfg.Sync.ReconcileInterval.Round(time.Second))
	return nil
}
