package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"wanderlust/internal/delivery/server/bootstrap"
	"wanderlust/internal/shared/config"
)

var version = "dev"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "wanderlust-server",
		Short:         "Trip-plan workflow server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to the YAML config file")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(newServeCommand(v))
	root.AddCommand(newConfigCommand(v))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.RunServer(cmd.Context(), bootstrap.Options{
				ConfigPath: v.GetString("config"),
				Overrides:  overridesFrom(v),
			})
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "Listen address")
	flags.String("agent-base-url", "", "Agent service base URL")
	flags.String("database-url", "", "Postgres URL; empty uses the in-memory store")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.Duration("interval", 0, "Delay between polling ticks")
	flags.Int("threshold", 0, "Unchanged observations required to converge")
	for _, name := range []string{"addr", "agent-base-url", "database-url", "log-level", "log-format", "interval", "threshold"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
	return cmd
}

// overridesFrom keeps only the flags that were set, so unset flags fall
// through to env, file and defaults.
func overridesFrom(v *viper.Viper) config.Overrides {
	var o config.Overrides
	str := func(key string) *string {
		if !v.IsSet(key) || v.GetString(key) == "" {
			return nil
		}
		s := v.GetString(key)
		return &s
	}
	o.ServerAddr = str("addr")
	o.AgentBaseURL = str("agent-base-url")
	o.DatabaseURL = str("database-url")
	o.LogLevel = str("log-level")
	o.LogFormat = str("log-format")
	if d := v.GetDuration("interval"); d > 0 {
		o.TrackerInterval = &d
	}
	if n := v.GetInt("threshold"); n > 0 {
		o.TrackerThreshold = &n
	}
	return o
}

func newConfigCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration and where each value came from",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, meta, err := config.Load(config.WithConfigPath(v.GetString("config")))
			if err != nil {
				return err
			}
			cfg.Agent.APIKey = redact(cfg.Agent.APIKey)
			cfg.Store.DatabaseURL = redact(cfg.Store.DatabaseURL)

			out := cmd.OutOrStdout()
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			_ = enc.Close()

			sources := meta.Sources()
			fields := make([]string, 0, len(sources))
			for field := range sources {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			fmt.Fprintf(out, "\n# loaded %s", meta.LoadedAt().Format(time.RFC3339))
			if path := meta.Path(); path != "" {
				fmt.Fprintf(out, " from %s", path)
			}
			fmt.Fprintln(out)
			for _, field := range fields {
				fmt.Fprintf(out, "# %s: %s\n", field, sources[field])
			}
			return nil
		},
	})
	return cmd
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return "********"
}
