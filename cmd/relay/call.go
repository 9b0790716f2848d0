package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	callCmd.Flags().String("relay", "http://localhost:8000", "base URL of a running relay")
	rootCmd.AddCommand(callCmd)
}

var callCmd = &cobra.Command{
	Use:   "call <phone>",
	Short: "Ask a running relay to place an outbound call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		relay, _ := cmd.Flags().GetString("relay")
		ctx, cancel := context.WithTimeout(cmd.Context(), 45*time.Second)
		defer cancel()

		callID, err := initiateCall(ctx, http.DefaultClient, relay, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), callID)
		return nil
	},
}

// initiateCall posts to the relay's initiate endpoint and returns the call id.
func initiateCall(ctx context.Context, client *http.Client, relay, phone string) (string, error) {
	body, err := json.Marshal(map[string]string{"phone_number": phone})
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(relay, "/") + "/api/calls/initiate"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("initiate call: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		CallID string `json:"call_id"`
		Detail string `json:"detail"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("relay status %d: %s", resp.StatusCode, out.Detail)
	}
	return out.CallID, nil
}
