package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

func newPasswordCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage the database password stored in the OS keyring",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set",
			Short: "Prompt for the database password and store it in the OS keyring",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				password := promptPassword("Database password: ")
				return setPassword(cmd.ErrOrStderr(), *configPath, password)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the stored database password from the OS keyring",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return clearPassword(cmd.ErrOrStderr(), *configPath)
			},
		},
	)
	return cmd
}

// setPassword stores password under the account derived from the config.
func setPassword(w io.Writer, configPath, password string) error {
	if password == "" {
		return errors.New("password must not be empty")
	}
	cfg, err := loadServerConfig(newViper(), configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	account := keyringAccount(cfg.Connection)
	if err := keyring.Set(keyringService, account, password); err != nil {
		return fmt.Errorf("failed to store password for %s: %w", account, err)
	}
	fmt.Fprintf(w, "Password stored for %s\n", account)
	return nil
}

// clearPassword deletes the stored password. A missing entry is not an error.
func clearPassword(w io.Writer, configPath string) error {
	cfg, err := loadServerConfig(newViper(), configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	account := keyringAccount(cfg.Connection)
	err = keyring.Delete(keyringService, account)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		fmt.Fprintf(w, "No password stored for %s\n", account)
	case err != nil:
		return fmt.Errorf("failed to remove password for %s: %w", account, err)
	default:
		fmt.Fprintf(w, "Password removed for %s\n", account)
	}
	return nil
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return ""
	}
	return string(password)
}
