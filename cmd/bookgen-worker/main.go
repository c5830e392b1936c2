package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yungbote/bookgen-worker/internal/app"
)

// version is set at build time via ldflags.
var version = "dev"

// v holds BOOKGEN_* settings; --config merges a YAML file on top of the
// defaults.
var v = app.NewViper()

var rootCmd = &cobra.Command{
	Use:   "bookgen-worker",
	Short: "Rewrites, enriches and renders textbook chapters to PDF",
	Long: `bookgen-worker claims book_render jobs from the job table, runs the
rewrite, praktijk, figure and assembly stages against the canonical book
JSON, renders the result to PDF and uploads every artifact.

Use "run" for the long-lived worker and "render" for a single local run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		return app.LoadDotEnv(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (YAML); BOOKGEN_* variables override it")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before config; existing variables win")
}

func loadConfig(cmd *cobra.Command) (app.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := app.LoadConfig(v, cfgFile)
	if err != nil {
		return cfg, err
	}
	if cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", cfgFile)
	}
	return cfg, nil
}

// bindFlag lets a command flag override one config key. Unchanged flags
// leave the env and file values alone.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
