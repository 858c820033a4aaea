package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var (
		baseURL string
		token   string
		origin  string
		flags   commandFlags
	)

	cmd := &cobra.Command{
		Use:   "send <command> <value>",
		Short: "Post a control command to a running gateway",
		Long: "Posts {command, value, id} to /api/control with a bearer token. The value is sent as JSON " +
			"when it parses as JSON and as a string otherwise.",
		Example: "  openclaw-gateway send setMood excited\n" +
			"  openclaw-gateway send setIntensity 1.5 --id turn-42\n" +
			"  openclaw-gateway send setLastMessage 42 --string",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv(tokenEnv)
			}
			body, err := buildPayload(args[0], args[1], flags)
			if err != nil {
				return err
			}
			return runSend(cmd, baseURL, token, origin, body)
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", defaultGatewayURL, "gateway base url")
	cmd.Flags().StringVar(&token, "token", "", "control token (default: $"+tokenEnv+")")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin header to send")
	cmd.Flags().StringVar(&flags.id, "id", "", "command id (default: random uuid)")
	cmd.Flags().BoolVar(&flags.noID, "no-id", false, "omit the command id")
	cmd.Flags().BoolVar(&flags.asString, "string", false, "always send the value as a string")
	return cmd
}

func runSend(cmd *cobra.Command, baseURL string, token string, origin string, body []byte) error {
	url := strings.TrimRight(baseURL, "/") + "/api/control"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post control command: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read gateway response: %d: %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("gateway refused command: %d %s", resp.StatusCode, failure.Error)
		}
		return fmt.Errorf("gateway refused command: %d", resp.StatusCode)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", body)
	return nil
}
