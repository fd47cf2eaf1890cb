package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scraperd/pkg/api"
)

var logsCmd = &cobra.Command{
	Use:   "logs [job_id]",
	Short: "Stream logs for a job",
	Long: `Stream a job's log output. The buffered tail is printed first, then
live lines follow until the job finishes or Ctrl+C is pressed. For a
finished job the buffered tail is printed and the command exits.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		// Trap Ctrl+C to exit gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			os.Exit(0)
		}()

		client := NewClient(viper.GetString("url"))

		err := client.StreamLogs(jobID, func(event api.LogEvent) bool {
			cmd.Println(event.Line)
			return true
		})
		if err != nil {
			cmd.Printf("Error streaming logs: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
}
