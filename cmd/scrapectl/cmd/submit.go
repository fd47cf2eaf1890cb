package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scraperd/pkg/api"
)

var (
	submitScraper string
	submitType    string
	submitBy      string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Request a scraper run",
	Long: `Request a run of one of the catalog scrapers. The job is created in
pending state and will not execute until approved:

  scrapectl submit --scraper "FairHealth Physician"
  scrapectl pending
  scrapectl approve <job-id>`,
	Run: func(cmd *cobra.Command, args []string) {
		if submitScraper == "" {
			cmd.Println("The --scraper flag is required. Use 'scrapectl list' to see the catalog.")
			return
		}

		client := NewClient(viper.GetString("url"))

		job, err := client.Submit(api.SubmitJobRequest{
			ScraperName: submitScraper,
			ScraperType: submitType,
			RequestedBy: submitBy,
		})
		if err != nil {
			cmd.Printf("Failed to submit job: %v\n", err)
			return
		}

		cmd.Printf("Job %s%s%s submitted for %s\n", colorBold, job.ID, colorReset, job.ScraperName)
		cmd.Printf("Status: %s\n", colorizeStatus(job.Status))
		cmd.Println("Approve it with: scrapectl approve " + job.ID)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&submitScraper, "scraper", "s", "", "Scraper display name (required)")
	submitCmd.Flags().StringVarP(&submitType, "type", "t", "", "Scraper type (optional, must match the catalog entry)")
	submitCmd.Flags().StringVar(&submitBy, "by", "", "Requester recorded on the job")
}
