package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	exitInfrastructure = 1
	exitInvalidInput   = 2
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidInput(err error) error {
	return &exitError{code: exitInvalidInput, err: err}
}

func infrastructure(err error) error {
	return &exitError{code: exitInfrastructure, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitInfrastructure
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "batchrun",
		Short:         "Run one unit of work per identity with bounded concurrency",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML/JSON config file; environment variables take precedence")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return invalidInput(fmt.Errorf("%w\n\n%s", err, cmd.UsageString()))
	})

	root.AddCommand(
		newRunCommand(&configPath),
		newServeCommand(&configPath),
		newHistoryCommand(&configPath),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error: ")+err.Error())
		os.Exit(exitCode(err))
	}
}
