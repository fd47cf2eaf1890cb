package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	historyScraper string
	historyStatus  string
	historyPage    int
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse job history",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		resp, err := client.History(historyScraper, historyStatus, historyPage, historyLimit)
		if err != nil {
			cmd.Printf("Failed to fetch history: %v\n", err)
			return
		}
		if len(resp.Jobs) == 0 {
			cmd.Println("No jobs found.")
			return
		}

		printJobList(cmd, resp.Jobs)
		cmd.Printf("\n%sPage %d, showing %d of %d jobs%s\n",
			colorDim, resp.Page, len(resp.Jobs), resp.Total, colorReset)
	},
}

var statisticsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by status",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		resp, err := client.Statistics()
		if err != nil {
			cmd.Printf("Failed to fetch statistics: %v\n", err)
			return
		}

		cmd.Printf("%sJob Statistics%s\n", colorBold, colorReset)
		cmd.Println("──────────────────────────────")
		for _, status := range []string{"pending", "approved", "running", "completed", "failed", "cancelled"} {
			cmd.Printf("%s %s%-10s%s %d\n", statusIcon(status), colorDim, status, colorReset, resp.ByStatus[status])
		}
		cmd.Printf("%sTotal:%s      %d\n", colorDim, colorReset, resp.Total)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statisticsCmd)

	historyCmd.Flags().StringVar(&historyScraper, "scraper", "", "Filter by scraper display name")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by job status")
	historyCmd.Flags().IntVar(&historyPage, "page", 1, "Page number")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Jobs per page")
}
