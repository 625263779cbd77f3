// Command fleetctl is the operator CLI for the Volteria console.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/byosamah/volteria-sub000/internal/client"
	"github.com/byosamah/volteria-sub000/internal/config"
	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/version"
)

var (
	consoleURL string
	username   string
	password   string
	logFile    string
	theme      string

	rootCmd = &cobra.Command{
		Use:           "fleetctl",
		Short:         "Operate a Volteria controller fleet",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}
)

func init() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&consoleURL, "url", config.Get("VOLTERIA_URL", "http://localhost:8000"), "console base URL")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", config.Get("VOLTERIA_USERNAME", ""), "console username")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", config.Get("VOLTERIA_PASSWORD", ""), "console password")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write debug logs to this file")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "dark", "color theme: dark, light or minimal")

	listCmd.Flags().String("status", "", "only list controllers with this status")
	provisionCmd.Flags().String("resume", "", "controller id of a draft to resume")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(provisionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogging keeps log output off the terminal the TUIs draw on.
func setupLogging() error {
	if logFile == "" {
		logging.SetLogger(logging.New(io.Discard, "error", "text"))
		return nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logging.SetLogger(logging.New(f, "debug", "text"))
	return nil
}

// connect logs in and returns a ready client.
func connect(ctx context.Context) (*client.Client, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password are required (--username/--password or VOLTERIA_USERNAME/VOLTERIA_PASSWORD)")
	}
	c := client.New(consoleURL)
	loginCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := c.Login(loginCtx, username, password); err != nil {
		return nil, fmt.Errorf("login to %s: %w", consoleURL, err)
	}
	logging.InfoWithComponent(logging.ComponentCLI, "Logged in", "url", consoleURL, "username", username)
	return c, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fleetctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List controllers with their connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		controllers, err := c.ListControllers(ctx, status)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERIAL\tSTATUS\tHARDWARE\tFIRMWARE\tONLINE\tLAST SEEN")
		for _, ctrl := range controllers {
			online := "no"
			if ctrl.Connectivity.Online {
				online = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", ctrl.SerialNumber, ctrl.Status, ctrl.HardwareTypeID,
				orDash(ctrl.FirmwareVersion), online, ctrl.Connectivity.Label)
		}
		return w.Flush()
	},
}

var testCmd = &cobra.Command{
	Use:   "test [controller-id]",
	Short: "Run the diagnostics suite on a controller",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := client.ParseID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		report, err := c.RunTests(ctx, id)
		if err != nil {
			return err
		}
		st := newStyles(theme)
		fmt.Fprintln(cmd.OutOrStdout(), renderReport(st, report))
		if !report.Passed() {
			return errors.New("diagnostics failed")
		}
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
