package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	apihttp "github.com/GriffinCanCode/AgentOS/apphost/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/catalog"
)

// newCheckCmd validates a manifest directory without starting the host
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [dir]",
		Short: "Validate the app manifests in a catalog directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dir := cfg.Catalog.Dir
			if len(args) == 1 {
				dir = args[0]
			}

			res, err := catalog.NewLoader(dir, nil).Load(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range res.Apps {
				fmt.Fprintf(out, "ok    %-24s %s\n", e.Manifest.Name, e.Source)
			}
			paths := make([]string, 0, len(res.Failed))
			for p := range res.Failed {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				fmt.Fprintf(out, "FAIL  %s: %v\n", p, res.Failed[p])
			}

			if len(paths) > 0 {
				return fmt.Errorf("%d of %d manifests invalid", len(paths), len(paths)+len(res.Apps))
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the host version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "apphost", apihttp.Version)
		},
	}
}
