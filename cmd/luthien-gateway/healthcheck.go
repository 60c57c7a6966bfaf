package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func buildHealthcheckCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check that a running gateway's /health endpoint is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080/health", "Health endpoint URL")
	return cmd
}

func runHealthcheck(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck failed: status %d", resp.StatusCode)
	}
	return nil
}
