package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/coursegen/internal/config"
)

// app carries what every subcommand needs: the merged configuration and
// the logger. It is filled in by the root command's pre-run hook.
type app struct {
	configPath string
	baseURL    string
	storeKind  string
	kuzuPath   string
	logLevel   string

	cfg    *config.ProjectConfig
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "coursegen",
		Short: "Generate and edit Understanding by Design course plans",
		Long: `coursegen drives staged generation of a course plan: Stage 1 (Desired
Results), Stage 2 (Assessment Evidence) and Stage 3 (Learning Plan). Each
stage builds on the one before it; editing a stage flags the later ones as
possibly stale.

Settings are read from coursegen.yml in the working directory and can be
overridden with flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to coursegen.yml or the directory holding it (default: .)")
	root.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "course service URL (overrides config)")
	root.PersistentFlags().StringVar(&a.storeKind, "store", "", "backend: http, memory or kuzu (overrides config)")
	root.PersistentFlags().StringVar(&a.kuzuPath, "kuzu-path", "", "database directory for the kuzu backend (overrides config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		newGenerateCmd(a),
		newStatusCmd(a),
		newExportCmd(a),
		newEditCmd(a),
		newChatCmd(a),
		newMockServerCmd(a),
		newServeMCPCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads the config file and applies flag overrides.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = a.baseURL
	}
	if flags.Changed("store") {
		cfg.Store = a.storeKind
	}
	if flags.Changed("kuzu-path") {
		cfg.KuzuPath = a.kuzuPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}

	switch cfg.Store {
	case config.StoreHTTP, config.StoreMemory:
	case config.StoreKuzu:
		if cfg.KuzuPath == "" {
			return errors.New("the kuzu store needs --kuzu-path or kuzuPath in the config")
		}
	default:
		return fmt.Errorf("unknown store %q (want http, memory or kuzu)", cfg.Store)
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// loadConfig reads path as a config file, or as a directory to search.
func loadConfig(path string) (*config.ProjectConfig, error) {
	if path == "" {
		return config.Load(".")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if info.IsDir() {
		return config.Load(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// The version needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
