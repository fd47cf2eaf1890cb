package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available scrapers",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		resp, err := client.ListScrapers()
		if err != nil {
			cmd.Printf("Failed to list scrapers: %v\n", err)
			return
		}

		cmd.Printf("%sAvailable Scrapers%s\n", colorBold, colorReset)
		cmd.Println("──────────────────────────────")
		for _, s := range resp.Scrapers {
			cmd.Printf("%s %s%s%s\n", s.Icon, colorBold, s.Name, colorReset)
			cmd.Printf("  %sType:%s %s\n", colorDim, colorReset, s.Type)
			cmd.Printf("  %s\n", s.Description)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
