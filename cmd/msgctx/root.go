package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fxsml/msgctx/config"
	"github.com/fxsml/msgctx/internal/logging"
)

// cliConfig is resolved from defaults, the config file, MSGCTX_CLI_*
// environment variables and explicitly set flags, in that order.
type cliConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Store     string        `yaml:"store"`
	Source    string        `yaml:"source"`
	TTL       time.Duration `yaml:"ttl"`
	Redis     struct {
		Addr      string `yaml:"addr"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`
	Badger struct {
		Path string `yaml:"path"`
	} `yaml:"badger"`
}

func defaultConfig() cliConfig {
	cfg := cliConfig{
		LogLevel:  "warn",
		LogFormat: "text",
		Store:     storeMemory,
		Source:    "msgctx-cli",
	}
	cfg.Redis.Addr = "localhost:6379"
	cfg.Badger.Path = "./msgctx-data"
	return cfg
}

type app struct {
	cfg     cliConfig
	cfgFile string
	loader  config.Loader
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: defaultConfig()}

	cmd := &cobra.Command{
		Use:   "msgctx",
		Short: "Create and inspect message-context headers",
		Long: `msgctx creates the serialized message-context header that correlates
messages of one logical flow, and inspects headers received from a broker.

With --store redis or --store badger, contexts are registered in a shared
store, so a header created by one invocation is found by the next.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolve(cmd.Flags())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "YAML config file")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "log format (json, text)")
	flags.StringVar(&a.cfg.Store, "store", a.cfg.Store, "context store (memory, redis, badger)")
	flags.DurationVar(&a.cfg.TTL, "ttl", a.cfg.TTL, "lifetime of registered contexts (0 keeps them)")
	flags.StringVar(&a.cfg.Redis.Addr, "redis-addr", a.cfg.Redis.Addr, "redis address for --store redis")
	flags.StringVar(&a.cfg.Badger.Path, "badger-path", a.cfg.Badger.Path, "database directory for --store badger")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newHeaderCmd(a))
	cmd.AddCommand(newInspectCmd(a))
	cmd.AddCommand(newLookupCmd(a))
	cmd.AddCommand(newCompleteCmd(a))

	return cmd
}

// resolve overlays the config file and environment on the defaults, then
// reapplies flags the user set explicitly.
func (a *app) resolve(flags *pflag.FlagSet) error {
	explicit := map[string]string{}
	flags.Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if err := a.loader.Resolve(a.cfgFile, "cli", &a.cfg); err != nil {
		return err
	}
	for name, value := range explicit {
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
	}

	a.logger = logging.New(logging.Config{
		Level:   a.cfg.LogLevel,
		Format:  a.cfg.LogFormat,
		Service: "msgctx",
		Version: version,
	}, nil)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "msgctx version %s\n", version)
			fmt.Fprintf(out, "  Git SHA:    %s\n", gitSHA)
			fmt.Fprintf(out, "  Build Time: %s\n", buildTime)
		},
	}
}
