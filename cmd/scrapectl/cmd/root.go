package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "scrapectl",
	Short: "Scrapectl is a command line tool for the scraperd job engine",
	Long: `scrapectl is the command-line interface for scraperd, the approval-gated
scraper job engine.

Every scraper run starts as a pending request and must be approved
before it executes. Approved jobs wait for a free execution slot, run in
an isolated container, and stream their logs live.

Common workflows:

  See which scrapers exist:
    scrapectl list

  Request a run:
    scrapectl submit --scraper "FairHealth Physician"

  Review and approve:
    scrapectl pending
    scrapectl approve <job-id>

  Watch a job:
    scrapectl status <job-id>
    scrapectl logs <job-id>

Configuration:
  Set the API endpoint via flag, environment variable or a config file:
    SCRAPERD_URL    API endpoint (default: http://localhost:8000)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".scrapectl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".scrapectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "SCRAPERD_VARNAME"
	viper.SetEnvPrefix("SCRAPERD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.scrapectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8000", "scraperd API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
