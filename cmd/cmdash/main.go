package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	refreshFlags := &APIFlags{}
	runFlags := &RunFlags{}
	statusFlags := &StatusFlags{}
	stopFlags := &StopFlags{}
	configureFlags := &ConfigureFlags{}

	root := &cobra.Command{
		Use:   "cmdash",
		Short: "CMake build-module dashboard daemon and CLI",
		Long: `Cmdash discovers CMake build modules, configures them, detects their
targets and runs builds with bounded concurrency. The serve command starts
the daemon; the other commands talk to a running daemon over HTTP.

Examples:
  cmdash serve --config cmdash.toml
  cmdash refresh
  cmdash run --target all
  cmdash status --dashboard main`,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file")

	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createValidateCommand(globalFlags),
		createRefreshCommand(refreshFlags),
		createRunCommand(runFlags),
		createStatusCommand(statusFlags),
		createStopCommand(stopFlags),
		createConfigureCommand(configureFlags),
	)
	return root
}
