package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/schemerge/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const exitNotApplied = 2

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errNotApplied) {
			os.Exit(exitNotApplied)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "schemerge",
		Short:         "Interactive KiCad schematic viewer and merge tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newBuildCommand(), newServeCommand(), newShellCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (random per process when empty)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("session.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("xprobe-url", defaults.GetString("xprobe.url"), "Cross-probe bridge URL")
	cmd.PersistentFlags().Int("search-page-size", defaults.GetInt("search.page_size"), "Search results per page")
	cmd.PersistentFlags().Int("cache-max-pages", defaults.GetInt("cache.max_pages"), "Decoded pages kept in memory")
	cmd.PersistentFlags().String("merge-mode", defaults.GetString("merge.mode"), "Viewer mode when the bundle sets none (view, diff, merge)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "xprobe.url", "xprobe-url")
	bindFlag(cmd, "search.page_size", "search-page-size")
	bindFlag(cmd, "cache.max_pages", "cache-max-pages")
	bindFlag(cmd, "merge.mode", "merge-mode")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
