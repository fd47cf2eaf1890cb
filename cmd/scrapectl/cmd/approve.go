package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var approveCmd = &cobra.Command{
	Use:   "approve [job_id]",
	Short: "Approve a pending job",
	Long:  `Approve a pending job. The job enters the admission queue and starts as soon as an execution slot is free.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		resp, err := client.Approve(args[0])
		if err != nil {
			cmd.Printf("Failed to approve job: %v\n", err)
			return
		}
		cmd.Printf("Job %s approved, status: %s\n", resp.Job.ID, colorizeStatus(resp.Job.Status))
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss [job_id]",
	Short: "Cancel a pending, approved or running job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		resp, err := client.Dismiss(args[0])
		if err != nil {
			cmd.Printf("Failed to dismiss job: %v\n", err)
			return
		}
		cmd.Printf("Job %s cancelled\n", resp.Job.ID)
	},
}

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(dismissCmd)
}
