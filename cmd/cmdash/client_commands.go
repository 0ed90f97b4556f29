package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/cmdash"
	"github.com/loykin/cmdash/pkg/client"
)

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "http://127.0.0.1:8720", "daemon API base URL")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "API request timeout")
	cmd.Flags().StringVar(&flags.Dashboard, "dashboard", "", "dashboard name (optional with a single dashboard)")
}

func newClient(flags APIFlags) *client.Client {
	return client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
}

func apiContext(flags APIFlags) (context.Context, context.CancelFunc) {
	timeout := flags.APITimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func createRefreshCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-run module discovery on a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiContext(*flags)
			defer cancel()
			return newClient(*flags).Refresh(ctx, flags.Dashboard)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createRunCommand(flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run build targets on a running daemon",
		Long: `Run build targets.

Examples:
  cmdash run --all                        # every available target of every module
  cmdash run --failed                     # rerun everything currently failed
  cmdash run --target flash               # one target across all modules
  cmdash run --module <id>                # all targets of one module, in order
  cmdash run --module <id> --target all   # one target of one module`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiContext(flags.APIFlags)
			defer cancel()
			c := newClient(flags.APIFlags)
			switch {
			case flags.All:
				return c.RunAll(ctx, flags.Dashboard)
			case flags.Failed:
				return c.RerunFailed(ctx, flags.Dashboard)
			case flags.Module != "" && flags.Target != "":
				return c.RunTarget(ctx, flags.Dashboard, flags.Module, flags.Target)
			case flags.Module != "":
				return c.RunTargetForModule(ctx, flags.Dashboard, flags.Module)
			case flags.Target != "":
				return c.RunTargetForAllModules(ctx, flags.Dashboard, flags.Target)
			default:
				return errors.New("one of --all, --failed, --module, --target is required")
			}
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().StringVar(&flags.Module, "module", "", "module id")
	cmd.Flags().StringVar(&flags.Target, "target", "", "target name")
	cmd.Flags().BoolVar(&flags.All, "all", false, "run every available target of every module")
	cmd.Flags().BoolVar(&flags.Failed, "failed", false, "rerun every currently failed target")
	return cmd
}

func createStatusCommand(flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the dashboard state of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(flags.APIFlags)
			for {
				ctx, cancel := apiContext(flags.APIFlags)
				snap, err := c.Snapshot(ctx, flags.Dashboard)
				cancel()
				if err != nil {
					return err
				}
				printSnapshot(snap)
				if !flags.Watch {
					return nil
				}
				time.Sleep(flags.Interval)
			}
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().BoolVar(&flags.Watch, "watch", false, "keep polling and reprinting")
	cmd.Flags().DurationVar(&flags.Interval, "interval", 2*time.Second, "watch poll interval")
	return cmd
}

func createStopCommand(flags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop running and queued builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiContext(flags.APIFlags)
			defer cancel()
			c := newClient(flags.APIFlags)
			if flags.Clear {
				return c.ClearAllTasks(ctx, flags.Dashboard)
			}
			return c.StopAll(ctx, flags.Dashboard)
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().BoolVar(&flags.Clear, "clear", false, "also cancel configures and wipe the task registry")
	return cmd
}

func createConfigureCommand(flags *ConfigureFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Configure modules on a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := apiContext(flags.APIFlags)
			defer cancel()
			c := newClient(flags.APIFlags)
			switch {
			case flags.All:
				return c.ConfigureAllModules(ctx, flags.Dashboard)
			case flags.Module != "" && flags.Reconfigure:
				return c.ReconfigureModule(ctx, flags.Dashboard, flags.Module)
			case flags.Module != "":
				return c.ConfigureModule(ctx, flags.Dashboard, flags.Module)
			default:
				return errors.New("--all or --module is required")
			}
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().StringVar(&flags.Module, "module", "", "module id")
	cmd.Flags().BoolVar(&flags.Reconfigure, "reconfigure", false, "wipe the build directory first")
	cmd.Flags().BoolVar(&flags.All, "all", false, "configure every module")
	return cmd
}

// printSnapshot renders a module-by-target status table.
func printSnapshot(snap cmdash.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprint(w, "MODULE\tCONFIGURE")
	for _, t := range snap.Targets {
		_, _ = fmt.Fprintf(w, "\t%s", t)
	}
	_, _ = fmt.Fprintln(w)
	for _, ms := range snap.Modules {
		conf := string(ms.Configure.Status)
		if ms.NeedsConfigure {
			conf = "needed"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s", ms.Module.Name, conf)
		for _, t := range snap.Targets {
			cell := string(ms.Runs[t].Status)
			if !ms.Availability[t] {
				cell = "-"
			}
			_, _ = fmt.Fprintf(w, "\t%s", cell)
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()
}
