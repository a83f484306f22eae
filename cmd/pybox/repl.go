package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/pybox/sandbox"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive prompt, one fresh sandbox per input",
	Long: `Start an interactive prompt.

Every input runs in a new sandbox: nothing carries over between inputs.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runRepl,
}

func init() {
	replCmd.Flags().Bool("eval", false, "Evaluate each input as a single expression")
	replCmd.Flags().String("history", "", "History file path (default: ~/.pybox_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	eval, _ := cmd.Flags().GetBool("eval")
	historyFile, _ := cmd.Flags().GetString("history")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".pybox_history")
	}

	host, logger, err := newHost(cmd, sandbox.WithStdin(strings.NewReader("")))
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer host.Close(context.Background())

	capability := sandbox.Exec
	if eval {
		capability = sandbox.Eval
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             io.NopCloser(cmd.InOrStdin()),
		Stdout:            cmd.OutOrStdout(),
		Stderr:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "pybox %s prompt (type 'exit' to quit, Ctrl+D to exit)\n", capability)

	return replLoop(cmd.Context(), rl, host, capability, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

type lineReader interface {
	Readline() (string, error)
	SetPrompt(string)
}

func replLoop(ctx context.Context, rl lineReader, host *sandbox.Host, capability sandbox.Capability, stdout, stderr io.Writer) error {
	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(stdout)
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if t := strings.TrimSpace(line); t == "exit" || t == "quit" {
			return nil
		}

		value, err := host.Run(ctx, capability, line)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, value)
	}
}
