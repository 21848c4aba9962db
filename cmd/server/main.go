package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "apphost",
		Short:        "Run the AgentOS app host",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	fs := cmd.PersistentFlags()
	fs.String("port", "", "HTTP port (env PORT)")
	fs.String("host", "", "listen address (env HOST)")
	fs.String("catalog", "", "manifest directory (env CATALOG_DIR)")
	fs.String("audit-file", "", "zstd audit log path (env AUDIT_FILE)")
	fs.String("home", "", "directory ~ expands to in filesystem scopes (env APP_HOME_DIR)")
	fs.String("log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	fs.Bool("dev", false, "development logging (env LOG_DEV)")
	fs.Bool("no-watch", false, "do not reload the catalog on file changes")
	fs.Bool("no-rate-limit", false, "disable admin API rate limiting")

	cmd.AddCommand(newCheckCmd(), newVersionCmd())
	return cmd
}

// loadConfig reads the environment, then applies every flag the user set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	textFlags := map[string]*string{
		"port":       &cfg.Server.Port,
		"host":       &cfg.Server.Host,
		"catalog":    &cfg.Catalog.Dir,
		"audit-file": &cfg.Capability.AuditFile,
		"home":       &cfg.Capability.HomeDir,
		"log-level":  &cfg.Logging.Level,
	}
	for name, dst := range textFlags {
		if err := override(fs, name, func() error {
			v, err := fs.GetString(name)
			*dst = v
			return err
		}); err != nil {
			return nil, err
		}
	}

	if err := override(fs, "dev", func() (err error) {
		cfg.Logging.Development, err = fs.GetBool("dev")
		return err
	}); err != nil {
		return nil, err
	}
	if off, _ := fs.GetBool("no-watch"); off {
		cfg.Catalog.Watch = false
	}
	if off, _ := fs.GetBool("no-rate-limit"); off {
		cfg.RateLimit.Enabled = false
	}
	return cfg, nil
}

func override(fs *pflag.FlagSet, name string, apply func() error) error {
	if !fs.Changed(name) {
		return nil
	}
	if err := apply(); err != nil {
		return fmt.Errorf("flag --%s: %w", name, err)
	}
	return nil
}

func serve(parent context.Context, cfg *config.Config) error {
	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
