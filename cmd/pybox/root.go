package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/caffeineduck/pybox/guest/python"
	"github.com/caffeineduck/pybox/internal/config"
	"github.com/caffeineduck/pybox/internal/logging"
	"github.com/caffeineduck/pybox/sandbox"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "pybox <code | ->",
	Short: "Run Python in a WebAssembly sandbox",
	Long: `pybox - Run untrusted Python in a sandboxed WebAssembly interpreter.

Pass the code as the only argument, or "-" to read it from stdin. The JSON
value of the trailing expression is printed to stdout. Each run gets a fresh
interpreter with 40 MiB of memory, no filesystem, no network and a
wall-clock timeout.`,
	Example: `  pybox 'sum(x**2 for x in range(10))'
  echo '[n * 2 for n in range(3)]' | pybox --eval -`,
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runRoot,
}

// run executes the root command with args and returns the process exit
// status. Failures print "Error: ..." to stderr and return 1.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("artifact", sandbox.DefaultArtifact, "Path to the guest interpreter module")
	flags.Duration("timeout", sandbox.DefaultTimeout, "Wall-clock timeout per run")
	flags.Uint64("memory-cap", sandbox.DefaultMemoryCap, "Guest linear memory cap in bytes")
	flags.Uint32("table-cap", sandbox.DefaultTableCap, "Guest table entry cap")
	flags.Bool("no-cache", false, "Disable compilation cache")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.Flags().Bool("eval", false, "Evaluate a single expression instead of running statements")
}

func runRoot(cmd *cobra.Command, args []string) error {
	source, err := readSource(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	guestStdin := cmd.InOrStdin()
	if args[0] == "-" {
		guestStdin = strings.NewReader("")
	}

	host, logger, err := newHost(cmd, sandbox.WithStdin(guestStdin))
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer host.Close(context.Background())

	capability := sandbox.Exec
	if eval, _ := cmd.Flags().GetBool("eval"); eval {
		capability = sandbox.Eval
	}

	value, err := host.Run(cmd.Context(), capability, source)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

// readSource returns arg itself, or stdin trimmed of surrounding whitespace
// when arg is "-".
func readSource(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// loadConfig reads the config file and environment, then applies any flags
// the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("artifact") {
		cfg.Sandbox.Artifact, _ = flags.GetString("artifact")
	}
	if flags.Changed("timeout") {
		cfg.Sandbox.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("memory-cap") {
		cfg.Sandbox.MemoryCap, _ = flags.GetUint64("memory-cap")
	}
	if flags.Changed("table-cap") {
		cfg.Sandbox.TableCap, _ = flags.GetUint32("table-cap")
	}
	if noCache, _ := flags.GetBool("no-cache"); noCache {
		cfg.Sandbox.Cache = false
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newHost builds a Python host from config and flags. Guest output goes to
// the command's streams.
func newHost(cmd *cobra.Command, extra ...sandbox.Option) (*sandbox.Host, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	opts := append(cfg.Sandbox.Options(),
		sandbox.WithStdout(cmd.OutOrStdout()),
		sandbox.WithStderr(cmd.ErrOrStderr()),
		sandbox.WithLogger(logger),
	)
	opts = append(opts, extra...)

	host, err := sandbox.New(python.New(), opts...)
	if err != nil {
		return nil, nil, err
	}
	return host, logger, nil
}
