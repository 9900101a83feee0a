// Package cmd implements the flowctl command tree.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	output  string
	verbose bool
)

// NewRootCmd returns the root command for flowctl
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "flowctl",
		Short:         "FlowSight CLI: flow analytics reports from the terminal",
		Long:          "FlowSight CLI: generate, list, and manage network flow reports against a FlowSight deployment.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flowsight/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "", "output format: json|text (default: text)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(newReportsCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.flowsight")
			viper.SetConfigName("config")
		}
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FLOWSIGHT")
	viper.AutomaticEnv()

	viper.SetDefault("server", "http://localhost:18020")

	// Ignore missing config
	_ = viper.ReadInConfig()
}
