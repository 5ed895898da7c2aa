package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	watchServer   string
	watchInterval time.Duration
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <batch-id>",
	Short: "Poll a batch until it completes, showing item progress",
	Long: `The watch command polls the batch status endpoint the way any client
would: state lives on the server, so watching can be interrupted and resumed
at any time.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchServer, "server", "http://localhost:8080", "backend base URL")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "polling interval")
}

type batchStatusResponse struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	batchID := args[0]
	url := fmt.Sprintf("%s/api/v1/batch/%s/status", watchServer, batchID)

	var bar *progressbar.ProgressBar
	for {
		status, err := fetchBatchStatus(url)
		if err != nil {
			return err
		}

		if bar == nil {
			bar = progressbar.NewOptions(status.Total,
				progressbar.OptionSetDescription("batch "+batchID),
				progressbar.OptionShowCount(),
			)
		}
		bar.Set(status.Completed + status.Failed)

		if status.Status == "completed" {
			fmt.Printf("\ncompleted: %d, failed: %d\n", status.Completed, status.Failed)
			return nil
		}

		time.Sleep(watchInterval)
	}
}

func fetchBatchStatus(url string) (*batchStatusResponse, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to reach backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s", resp.Status)
	}

	var status batchStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &status, nil
}
