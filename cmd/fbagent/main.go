package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fbagent/internal/app"
	"fbagent/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
func newApp(ctx context.Context) (*app.App, error) {
	defaults, err := app.ResolveDefaults(os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	defaults.Apply(cfg)

	password, err := app.ResolvePassword(cfg.Encryption, terminalPrompt())
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, app.Options{Password: password})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// terminalPrompt returns a password prompt when stdin is a terminal.
func terminalPrompt() func() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func() (string, error) {
		fmt.Fprint(os.Stderr, "Encryption password: ")
		p, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(p), err
	}
}

var rootCmd = &cobra.Command{
	Use:          "fbagent",
	Short:        "Versioned file backup agent",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.ResolveDefaults(os.LookupEnv)
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := defaults.NewConfig()
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID: %s\n", cfg.HostID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Println("Add [[jobs]] entries to start backing up.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.ResolveDefaults(os.LookupEnv)
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		defaults.Apply(cfg)

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Host ID:   %s\n", cfg.HostID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		if cfg.Scheduler.RunOnce {
			fmt.Printf("Schedule:  run once\n")
		} else {
			fmt.Printf("Schedule:  every %s\n", time.Duration(cfg.Scheduler.Interval))
		}
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)

		fmt.Println("\nDrivers:")
		for _, d := range cfg.Drivers {
			fmt.Printf("  %-12s %-9s vault=%s compress=%t encrypt=%t\n", d.Name, d.Type, d.Vault.Type, d.Compress, d.Encrypt)
		}
		fmt.Println("\nJobs:")
		for _, j := range cfg.Jobs {
			fmt.Printf("  %-12s %s -> %s\n", j.Name, j.Path, j.Driver)
		}
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run backup cycles on the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run one backup cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.RunCycle(ctx)
		if report != nil {
			fmt.Println(report.Summary())
		}
		if err != nil && !errors.Is(err, app.ErrCycleFailed) {
			return fmt.Errorf("backup failed: %w", err)
		}
		if report != nil {
			for _, m := range report.Messages() {
				fmt.Printf("  [%s] %s: %s\n", m.Level, m.Job, m.Text)
			}
		}
		return err
	},
}

// purge command
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Apply retention policies without scanning",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Purge(ctx)
		if err != nil {
			return err
		}
		fmt.Println(report.Summary())
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify [NAME...]",
	Short: "Check stored artifacts against their metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		driverName, _ := cmd.Flags().GetString("driver")

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		outcomes, err := a.Verify(ctx, driverName, args)
		if err != nil {
			return err
		}
		if len(outcomes) == 0 {
			fmt.Println("Nothing to verify.")
			return nil
		}

		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				fmt.Printf("FAIL  %s: %v\n", o.Name, o.Err)
				continue
			}
			fmt.Printf("OK    %s  %s", o.Name, humanize.Bytes(uint64(o.Result.Plain)))
			if n := len(o.Result.Entries); n > 0 {
				fmt.Printf("  %d entries", n)
			}
			fmt.Println()
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d artifacts failed verification", failed, len(outcomes))
		}
		return nil
	},
}

// versions command
var versionsCmd = &cobra.Command{
	Use:   "versions JOB RELPATH",
	Short: "View the recorded versions of a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.Versions(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("No versions recorded.")
			return nil
		}

		for _, v := range versions {
			kind := "modified"
			if v.Deleted {
				kind = "deleted "
			}
			finished := "-"
			if v.FinishedAt != nil {
				finished = humanize.Time(*v.FinishedAt)
			}
			fmt.Printf("$%-4d %s  %s  %-8s  %s\n",
				v.Version,
				kind,
				v.ModifiedAt.Local().Format("2006-01-02 15:04:05"),
				v.State,
				finished,
			)
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore JOB RELPATH",
	Short: "Restore a version of a file from the vault",
	Long: `Restore writes a stored version of a tracked file back to disk.
By default the newest stored version is written next to the original as
RELPATH.v<n>.fbrestored. Existing files are never overwritten.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt64("version")
		output, _ := cmd.Flags().GetString("output")

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.Restore(ctx, args[0], args[1], app.RestoreOptions{Version: version, Output: output})
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View backup cycle history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		cycles, err := a.History(ctx, limit)
		if err != nil {
			return err
		}
		if len(cycles) == 0 {
			fmt.Println("No backup cycles recorded.")
			return nil
		}

		for _, c := range cycles {
			duration := ""
			if c.FinishedAt != nil {
				duration = c.FinishedAt.Sub(c.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %s  %-8s  %-10s  %s\n",
				c.ID,
				c.StartedAt.Local().Format("2006-01-02 15:04:05"),
				c.Status,
				duration,
				c.Summary,
			)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringP("driver", "d", "", "Driver whose vault holds the artifacts")
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().Int64P("version", "V", -1, "Version to restore, newest stored when negative")
	restoreCmd.Flags().StringP("output", "o", "", "Write to this path instead of next to the original")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of cycles to show")
}
