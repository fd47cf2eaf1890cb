package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scraperd/pkg/api"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List jobs waiting for approval",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		resp, err := client.Pending()
		if err != nil {
			cmd.Printf("Failed to list pending jobs: %v\n", err)
			return
		}
		if len(resp.Jobs) == 0 {
			cmd.Println("No pending jobs.")
			return
		}
		printJobList(cmd, resp.Jobs)
	},
}

var runningCmd = &cobra.Command{
	Use:   "running",
	Short: "List jobs currently executing",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		resp, err := client.Running()
		if err != nil {
			cmd.Printf("Failed to list running jobs: %v\n", err)
			return
		}
		if len(resp.Jobs) == 0 {
			cmd.Println("No running jobs.")
			return
		}
		printJobList(cmd, resp.Jobs)
	},
}

func printJobList(cmd *cobra.Command, jobs []api.JobResponse) {
	for _, j := range jobs {
		cmd.Printf("%s  %s%-24s%s %s  requested %s by %s\n",
			colorizeStatus(j.Status),
			colorBold, j.ScraperName, colorReset,
			j.ID,
			relativeTime(j.RequestedAt)+" ago", j.CreatedBy)
	}
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(runningCmd)
}
