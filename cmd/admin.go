package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

const minPasswordLength = 8

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage administrator accounts",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create an administrator or reset its password",
	Long: `Create an administrator account for the web API.

If the account already exists its password is replaced. The password is
read from --password, the ADMIN_PASSWORD environment variable or stdin.

Examples:
  face-attendance admin create admin --password 's3cret-pass'
  echo 's3cret-pass' | face-attendance admin create admin`,
	Args: cobra.ExactArgs(1),
	RunE: runAdminCreate,
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminCreateCmd)

	adminCreateCmd.Flags().String("password", "", "Password for the account")
}

// readPassword returns the flag value, ADMIN_PASSWORD or the first line of stdin.
func readPassword(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv("ADMIN_PASSWORD"); env != "" {
		return env, nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no password given: use --password, ADMIN_PASSWORD or stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runAdminCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	username := strings.TrimSpace(args[0])
	if username == "" {
		return errors.New("username must not be empty")
	}

	password, err := readPassword(mustGetString(cmd, "password"))
	if err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := connectDatabase(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	admins, err := database.GetAdminStore(ctx)
	if err != nil {
		return err
	}

	_, err = admins.CreateAdmin(ctx, username, string(hash))
	if errors.Is(err, database.ErrConflict) {
		if err := admins.SetPassword(ctx, username, string(hash)); err != nil {
			return fmt.Errorf("updating password: %w", err)
		}
		fmt.Printf("Password updated for administrator %q\n", username)
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating administrator: %w", err)
	}
	fmt.Printf("Administrator %q created\n", username)
	return nil
}
