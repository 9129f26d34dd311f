// Package cmd is the CLI host harness around the TA core in internal/ta:
// it wires configuration, logging, persistence, and transport around a
// KeyMintTA instance but contains no keyblob or dispatch logic itself.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"hermannm.dev/devlog"
)

var (
	cfgFile  string
	debug    bool
	logLevel slog.LevelVar
)

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "keymint-ta",
	Short: "Reference host for a KeyMint-style trusted application core",
	Long: `keymint-ta hosts the keyblob-lifecycle trusted application core
defined in internal/ta: it serves the framed request/response protocol
over a configured transport, with secure-deletion state backed by either
an in-memory store or a persisted database; attestation identity is held
in memory.
`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML/TOML/JSON configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Print debug-level log output")
}

// loadConfig binds the current command's flags into viper, reads the
// configuration file (if one was given), unmarshals it into a Config, and
// resolves its polymorphic sections. Subcommands call this from PreRunE.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	viper.SetEnvPrefix("KEYMINT_TA")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if viper.GetBool("debug") {
		logLevel.Set(slog.LevelDebug)
	}
	if cfg.Log.Level != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
		logLevel.Set(lvl)
	}

	if err := cfg.RootKey.UnmarshalParams(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
