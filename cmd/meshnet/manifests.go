package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"meshnet/cmd/meshnet/ui"
	"meshnet/internal/manifest"

	"github.com/spf13/cobra"
)

func manifestsCmd(flags *globalFlags) *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "manifests",
		Short: "Write the compose manifest and build files, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*flags)
			if err != nil {
				return err
			}
			m := materializer(cfg)

			services := []manifest.Service{manifest.Discovery}
			if cfg.WebUI.Enabled {
				services = append(services, manifest.WebUI)
			}
			out := cmd.OutOrStdout()
			var created []string
			for _, svc := range services {
				files, err := m.Ensure(cmd.Context(), svc)
				if err != nil {
					return fmt.Errorf("materialize %s: %w", svc, err)
				}
				created = append(created, files...)
			}
			if len(created) == 0 {
				fmt.Fprintln(out, ui.InfoMsg("manifests already present in %s", m.Dir()))
			}
			for _, f := range created {
				rel, err := filepath.Rel(m.Dir(), f)
				if err != nil {
					rel = f
				}
				fmt.Fprintln(out, ui.SuccessMsg("wrote %s", rel))
			}

			if validate {
				data, err := os.ReadFile(m.ComposePath())
				if err != nil {
					return fmt.Errorf("read compose manifest: %w", err)
				}
				project, err := manifest.LoadCompose(cmd.Context(), m.Dir(), data)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, ui.SuccessMsg("%s is valid (services: %s)",
					filepath.Base(m.ComposePath()), strings.Join(project.ServiceNames(), ", ")))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "Parse the written compose file and check it")
	return cmd
}
