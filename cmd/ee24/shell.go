package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/spf13/cobra"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run device commands interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "ee24> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				AutoComplete:    shellCompleter(a),
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			fmt.Fprintln(rl.Stdout(), "Type 'help' for commands, 'quit' to exit.")
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err != nil {
					return nil
				}
				if done := runLine(a, line, rl.Stdout(), rl.Stderr()); done {
					return nil
				}
			}
		},
	}
}

// runLine executes one shell line and reports whether the shell should exit.
// Errors are printed, not returned, so a bad command does not end the session.
func runLine(a *app, line string, out, errOut io.Writer) bool {
	fields, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return false
	}
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "exit", "q":
		return true
	}

	sub := &cobra.Command{
		Use:           "ee24>",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	sub.AddCommand(deviceCommands(a)...)
	sub.SetArgs(fields)
	sub.SetOut(out)
	sub.SetErr(errOut)

	if err := sub.Execute(); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
	}
	return false
}

func shellCompleter(a *app) *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, cmd := range deviceCommands(a) {
		items = append(items, readline.PcItem(cmd.Name()))
	}
	items = append(items, readline.PcItem("help"), readline.PcItem("quit"))
	return readline.NewPrefixCompleter(items...)
}
