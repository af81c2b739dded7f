package main

import (
	"fmt"
	"os"

	"meshnet/cmd/meshnet/ui"
	"meshnet/internal/failure"
	"meshnet/internal/logging"

	"github.com/spf13/cobra"
)

var version = "dev"

type globalFlags struct {
	configPath    string
	workDir       string
	debug         bool
	noInteraction bool
}

func main() {
	var flags globalFlags
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "meshnet",
		Short:         "Bootstrap a container engine and run the mesh discovery services",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureInteraction(flags.noInteraction)
			if flags.debug {
				return logging.Configure(logging.LevelDebug)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMenu(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to the config file (default: meshnet.yaml in the work directory)")
	root.PersistentFlags().StringVar(&flags.workDir, "workdir", "", "Directory holding manifests and the config file (default: current directory)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&flags.noInteraction, "no-interaction", false, "Never prompt; fail when input is required")

	root.AddCommand(keygenCmd())
	root.AddCommand(manifestsCmd(&flags))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		if hint := failure.HintOf(err); hint != "" {
			fmt.Fprintln(os.Stderr, "  "+ui.Muted(hint))
		}
		os.Exit(1)
	}
}
