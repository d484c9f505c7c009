package system

import (
	"errors"
	"fmt"
	"strings"

	"github.com/julianstephens/habitgarden/internal/cli"
	"github.com/julianstephens/habitgarden/internal/keyring"
	"github.com/julianstephens/habitgarden/internal/remote"
)

type SecretCmd struct {
	Set    SecretSetCmd    `cmd:"" help:"Store the remote connection string in the OS keyring."`
	Delete SecretDeleteCmd `cmd:"" help:"Remove the remote connection string from the OS keyring."`
	Status SecretStatusCmd `cmd:"" help:"Check the OS keyring." default:"1"`
}

// SecretSetCmd stores the PostgreSQL connection string in the OS keyring
type SecretSetCmd struct {
	ConnectionString string `arg:"" help:"PostgreSQL connection string to store in keyring"`
}

func (cmd *SecretSetCmd) Run(ctx *cli.Context) error {
	if !strings.HasPrefix(cmd.ConnectionString, "postgres://") &&
		!strings.HasPrefix(cmd.ConnectionString, "postgresql://") &&
		!strings.Contains(cmd.ConnectionString, "host=") {
		return errors.New("connection string must be a valid PostgreSQL connection string")
	}

	if err := remote.ValidateConnString(cmd.ConnectionString); err != nil {
		if !errors.Is(err, remote.ErrEmbeddedCredentials) {
			return fmt.Errorf("invalid connection string: %w", err)
		}
		// The keyring is encrypted, so an embedded password is acceptable here
		fmt.Println("Note: the connection string contains a password; it is stored as-is in the OS keyring.")
	}

	if err := keyring.SetRemoteDSN(cmd.ConnectionString); err != nil {
		return fmt.Errorf("failed to store connection string in keyring: %w", err)
	}

	fmt.Println("✓ Connection string stored in OS keyring")
	fmt.Println("  Leave remote.dsn empty in the config file to use it")
	return nil
}

type SecretDeleteCmd struct{}

func (cmd *SecretDeleteCmd) Run(ctx *cli.Context) error {
	if err := keyring.DeleteRemoteDSN(); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return errors.New("no connection string found in keyring")
		}
		return fmt.Errorf("failed to delete connection string from keyring: %w", err)
	}

	fmt.Println("✓ Connection string deleted from OS keyring")
	return nil
}

type SecretStatusCmd struct{}

func (cmd *SecretStatusCmd) Run(ctx *cli.Context) error {
	if !keyring.IsAvailable() {
		fmt.Println("❌ OS keyring is not available on this system")
		return keyring.ErrKeyringUnavailable
	}
	fmt.Println("✓ OS keyring is available")

	dsn, err := keyring.GetRemoteDSN()
	switch {
	case err == nil:
		fmt.Printf("✓ Connection string is stored in keyring: %s\n", maskPassword(dsn))
	case errors.Is(err, keyring.ErrNotFound):
		fmt.Println("ℹ No connection string stored in keyring")
	default:
		return err
	}
	return nil
}

// maskPassword hides the password of a URL or key=value connection string
func maskPassword(connStr string) string {
	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		idx := strings.Index(connStr, "://")
		rest := connStr[idx+3:]
		if at := strings.LastIndex(rest, "@"); at != -1 {
			userInfo := rest[:at]
			if colon := strings.Index(userInfo, ":"); colon != -1 {
				return connStr[:idx+3] + userInfo[:colon] + ":****" + rest[at:]
			}
		}
		return connStr
	}

	parts := strings.Fields(connStr)
	for i, part := range parts {
		if strings.HasPrefix(part, "password=") {
			parts[i] = "password=****"
		}
	}
	return strings.Join(parts, " ")
}
