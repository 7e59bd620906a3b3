// Command ctydna compiles the cty.dat master prefix table into a compact
// lookup artifact, resolves callsigns against it, and serves it over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/user00265/ctydna/internal/config"
	"github.com/user00265/ctydna/internal/logging"
	"github.com/user00265/ctydna/internal/version"
)

func main() {
	status := RunApplication(context.Background(), os.Args[1:])
	if status != 0 {
		os.Exit(status)
	}
}

// app carries what every subcommand needs.
type app struct {
	cfg      *config.Config
	logLevel string
	stdin    io.Reader
	stdout   io.Writer
}

// RunApplication runs the CLI with args and returns the exit code. Tests call
// it directly.
func RunApplication(ctx context.Context, args []string) int {
	return runWithIO(ctx, args, os.Stdin, os.Stdout)
}

func runWithIO(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout}
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		logging.Error("%v", err)
		return 1
	}
	return 0
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ctydna",
		Short:         "Compile and query the callsign to DXCC entity lookup table",
		Version:       version.ProjectVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (crit, error, warn, notice, info, debug); overrides LOG_LEVEL")

	root.AddCommand(
		a.newFetchCmd(),
		a.newBuildCmd(),
		a.newLookupCmd(),
		a.newServeCmd(),
		a.newHealthcheckCmd(),
		a.newVersionCmd(),
	)
	return root
}

// setup loads the configuration and applies the log level.
func (a *app) setup() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	if level != "" {
		l, err := logging.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		logging.SetLevel(l)
	}
	logging.Debug("Configuration: data_dir=%s cty_dat=%s artifact=%s redis=%t", cfg.DataDir, cfg.CtyDatPath, cfg.ArtifactPath, cfg.Redis.Enabled)
	return nil
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "%s %s\n", version.ProjectName, version.ProjectVersion)
		},
	}
}
