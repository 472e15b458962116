package cmd

import (
	"github.com/Iron-Ham/ralphloop/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "ralphloop",
	Short: "Resumable agent loops over a markdown task document",
	Long: `Ralphloop runs an AI coding tool in a loop against a task document
until every task is checked off and the tool promises completion, or the
iteration budget runs out.

Sessions are recorded in a shared state file so they survive crashes and
can be inspected, stopped and resumed from other terminals.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/ralphloop/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level for command diagnostics on stderr (debug, info, warn, error)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("cli.log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	// RALPH_LOOP_MAX_ITERATIONS for loop.max_iterations, plus the
	// documented RALPH_STATE_DIR style overrides
	_ = config.BindEnv(viper.GetViper())

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
