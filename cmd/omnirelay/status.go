package omnirelay

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/omnirelay/omnirelay/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the health of a running OmniRelay hub",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("status: hub is not running")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("status: hub is healthy")
	} else {
		fmt.Printf("status: hub returned %s\n", resp.Status)
	}
	return nil
}
