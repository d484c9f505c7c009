package backups

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/julianstephens/habitgarden/internal/backup"
	"github.com/julianstephens/habitgarden/internal/cli"
)

type BackupCmd struct {
	Create  BackupCreateCmd  `cmd:"" help:"Create a manual backup." default:"1"`
	List    BackupListCmd    `cmd:"" help:"List available backups."`
	Restore BackupRestoreCmd `cmd:"" help:"Restore the cache from a backup."`
}

// openManager builds a backup manager over the configured substrate without
// starting a sync service
func openManager(ctx *cli.Context) (*backup.Manager, func() error, error) {
	cfg, err := ctx.Config()
	if err != nil {
		return nil, nil, err
	}
	sub, err := cli.OpenSubstrate(cfg)
	if err != nil {
		return nil, nil, err
	}
	return backup.NewManager(sub, cfg.Dir), sub.Close, nil
}

type BackupCreateCmd struct{}

func (c *BackupCreateCmd) Run(ctx *cli.Context) error {
	mgr, closeFn, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	backupPath, err := mgr.CreateBackup(context.Background())
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Printf("✓ Backup created: %s\n", filepath.Base(backupPath))
	return nil
}

type BackupListCmd struct{}

func (c *BackupListCmd) Run(ctx *cli.Context) error {
	mgr, closeFn, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	backups, err := mgr.ListBackups()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	if len(backups) == 0 {
		fmt.Println("No backups found.")
		fmt.Printf("Backups are stored in: %s\n", mgr.GetBackupDir())
		return nil
	}

	fmt.Printf("Available backups (%d total, keeping most recent %d):\n\n", len(backups), backup.MaxBackups)
	for _, b := range backups {
		fmt.Printf("  %s  %s  (%.1f KB)\n",
			b.Timestamp.Local().Format("2006-01-02 15:04:05"), filepath.Base(b.Path), float64(b.Size)/1024.0)
	}
	fmt.Printf("\nBackup directory: %s\n", mgr.GetBackupDir())
	return nil
}

type BackupRestoreCmd struct {
	BackupFile string `arg:"" help:"Path or filename of the backup to restore."`
	Yes        bool   `help:"Skip the confirmation prompt." short:"y"`
}

func (c *BackupRestoreCmd) Run(ctx *cli.Context) error {
	mgr, closeFn, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	backupPath, err := locate(c.BackupFile, mgr.GetBackupDir())
	if err != nil {
		return err
	}

	if !c.Yes {
		fmt.Println("⚠️  WARNING: This will replace your cached habits and queued changes with the backup.")
		fmt.Println("⚠️  Stop the TUI and daemon before restoring.")
		fmt.Println("A backup of the current cache will be created first.")
		fmt.Printf("\nRestore from: %s\n", backupPath)
		fmt.Print("Continue? [y/N]: ")

		response, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Restore cancelled.")
			return nil
		}
	}

	if err := mgr.RestoreBackup(context.Background(), backupPath); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	fmt.Println("✓ Cache restored. Queued changes will sync on the next run.")
	return nil
}

// locate resolves name as a path, then as a file in the backup directory
func locate(name, backupDir string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("backup file not found: %s", name)
		}
		return name, nil
	}
	if _, err := os.Stat(name); err == nil {
		return filepath.Abs(name)
	}
	candidate := filepath.Join(backupDir, name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", fmt.Errorf("backup file not found: tried current directory and %s", backupDir)
}
