//go:build linux

// Command container is a minimal OCI-style container runtime for Linux: it
// extracts a local image archive, builds an isolated mount/PID/UTS/network
// namespace environment over an overlay filesystem, wires it to a host
// bridge, execs a user command inside it, and tears the environment down on
// exit. See spec.md and SPEC_FULL.md for the full design.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/shadmanZero/mini_containier/internal/cerrors"
	"github.com/shadmanZero/mini_containier/internal/clog"
	"github.com/shadmanZero/mini_containier/internal/config"
	"github.com/shadmanZero/mini_containier/internal/launcher"
	"github.com/shadmanZero/mini_containier/internal/layout"
	"github.com/shadmanZero/mini_containier/internal/lifecycle"
	"github.com/spf13/cobra"
)

func main() {
	// The re-exec'd container init never goes through cobra: it's
	// distinguished by an env var (see internal/launcher.IsChild) rather
	// than argv so that the user's own command/args on argv aren't
	// mistaken for CLI flags.
	if rec, ok := launcher.IsChild(); ok {
		os.Exit(runChild(rec))
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

var logLevel string
var logJSON bool

var rootCmd = &cobra.Command{
	Use:   "container",
	Short: "A minimal OCI-style container runtime",
	// Cobra's default behavior for an unrecognized subcommand is to reject
	// it with "unknown command" before RunE ever runs (exit 1); spec.md §6
	// instead wants "any other token: invalid-command notice, exit 0." Args
	// is set to ArbitraryArgs to suppress that rejection so the unmatched
	// token reaches RunE below, which implements both of spec.md §6's root
	// cases itself: no args (usage, exit 1) and an unrecognized token
	// (notice, exit 0) — a deliberate deviation from cobra's defaults.
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			_ = cmd.Help()
			return &cerrors.ArgumentFailure{Msg: "no command given; see usage above"}
		}
		fmt.Fprintf(os.Stderr, "invalid command: %s\n", args[0])
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "output logs in JSON format")
	cobra.OnInitialize(func() {
		clog.Init(clog.Config{Level: clog.Level(logLevel), JSONOutput: logJSON})
	})

	// Cobra auto-registers a "help" subcommand that always prints usage and
	// returns nil (exit 0). spec.md §6 wants "help (or no args): prints
	// usage; exits 1" for both forms, so the literal "help" token gets the
	// same treatment as the bare-invocation RunE above instead of falling
	// through to cobra's default.
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "help [command]",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := rootCmd
			if len(args) > 0 {
				if found, _, err := rootCmd.Find(args); err == nil {
					target = found
				}
			}
			_ = target.Help()
			return &cerrors.ArgumentFailure{Msg: "no command given; see usage above"}
		},
	})

	rootCmd.AddCommand(runCmd, pruneCmd, inspectCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <image> <cmd> [cmd-args...]",
	Short: "Run a command inside a fresh container",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.New()
		result, err := lifecycle.Run(cmd.Context(), cfg, args[0], args[1:])
		if err != nil {
			return err
		}
		// spec.md §6: the controller always exits 0 after teardown on the
		// success path, regardless of the child's own exit status (§9 Open
		// Question, resolved in DESIGN.md). result.ExitCode is still
		// available to library callers/tests.
		_ = result
		return nil
	},
}

// runChild is the entrypoint for the re-exec'd container init. It never
// returns on success (launcher.ChildMain execs the user's command).
func runChild(rec *layout.Record) int {
	cfg := config.New()

	// os.Args is [self, "__child", cmd, cmd-args...]; strip the marker.
	var command []string
	if len(os.Args) > 2 {
		command = os.Args[2:]
	}

	if err := launcher.ChildMain(cfg, rec, command); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return 0
}

// exitCodeFor maps a typed failure to spec.md §6's documented exit codes.
func exitCodeFor(err error) int {
	var coder cerrors.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}
