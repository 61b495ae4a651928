package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"hubsync/internal/app"
	"hubsync/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, then applies .env and HUBSYNC_* overrides.
func loadConfig() (*config.Config, map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}
	if err := config.LoadDotEnv(defaults["env_file"]); err != nil {
		return nil, nil, err
	}
	if err := config.LoadDotEnv(""); err != nil {
		return nil, nil, err
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	config.ApplyEnv(cfg, os.Getenv)
	return cfg, defaults, nil
}

// run opens a HubApp for one operation, runs fn, and closes the app with
// fn's result so the operation is logged as finished.
func run(cmd *cobra.Command, operation string, params []string, fn func(ctx context.Context, a *app.HubApp) error) (err error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewHubApp(ctx, cfg, operation, strings.Join(params, " "))
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer func() {
		if cerr := a.Close(err); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

// readPassphrase reads a passphrase without echo when stdin is a terminal.
func readPassphrase(prompt string, confirm bool) (string, error) {
	if env := os.Getenv("HUBSYNC_PASSPHRASE"); env != "" {
		return env, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		again, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(again) != string(pass) {
			return "", errors.New("passphrases do not match")
		}
	}
	return string(pass), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var rootCmd = &cobra.Command{
	Use:           "hubsync",
	Short:         "Information hub data tool",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		actorID, _ := cmd.Flags().GetString("actor")
		if actorID == "" {
			actorID = uuid.New().String()
		}
		cfg := config.NewConfig(actorID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Actor:    %s\n", actorID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])

		if cfg.Encryption.Type != "age" {
			return nil
		}
		pass, err := readPassphrase("Snapshot passphrase: ", true)
		if err != nil {
			return err
		}
		created, err := app.SetupEncryption(cfg.Encryption, pass)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Encryption keys written to %s\n", cfg.Encryption.PublicKeyPath)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.APIKey != "" {
			cfg.Store.APIKey = "********"
		}
		if cfg.Actor.AccessToken != "" {
			cfg.Actor.AccessToken = "********"
		}
		if cfg.Vault.S3SecretAccessKey != "" {
			cfg.Vault.S3SecretAccessKey = "********"
		}

		fmt.Printf("# Configuration from %s\n\n", defaults["config_path"])
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configInitCmd.Flags().String("actor", "", "User id to act as (default: a new uuid)")

	rootCmd.AddCommand(configCmd)
	addHubCommands(rootCmd)
}
