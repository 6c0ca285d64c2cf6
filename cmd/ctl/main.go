package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// exit codes: 0 success, 2 request rejected (4xx), 3 service or transport
// failure.
const (
	exitRejected    = 2
	exitUnavailable = 3
)

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type client struct {
	addr  string
	token string
	http  *http.Client
}

func (c *client) do(method, path string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &exitError{exitRejected, err.Error()}
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.addr+path, reqBody)
	if err != nil {
		return nil, &exitError{exitRejected, err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &exitError{exitUnavailable, fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &exitError{exitUnavailable, fmt.Sprintf("read response: %v", err)}
	}

	switch {
	case resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode < 500:
		return nil, &exitError{exitRejected, apiError(resp.StatusCode, raw)}
	default:
		return nil, &exitError{exitUnavailable, apiError(resp.StatusCode, raw)}
	}
}

func apiError(status int, raw []byte) string {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		if body.Code != "" {
			return fmt.Sprintf("%s: %s (HTTP %d)", body.Code, body.Error, status)
		}
		return fmt.Sprintf("%s (HTTP %d)", body.Error, status)
	}
	return fmt.Sprintf("HTTP %d: %s", status, string(raw))
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

func main() {
	c := &client{http: &http.Client{Timeout: 30 * time.Second}}

	root := &cobra.Command{
		Use:           "esusuctl",
		Short:         "Operator CLI for the esusu cycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.addr, "addr", envOr("ESUSU_API_ADDR", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv("ESUSU_API_TOKEN"), "Bearer token for the admin API")

	statusCmd := &cobra.Command{
		Use:   "status <group-id>",
		Short: "Show a group's cycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := c.do(http.MethodGet, "/api/v1/groups/"+args[0], nil)
			if err != nil {
				return err
			}
			printJSON(raw)
			return nil
		},
	}

	var pauseReason string
	pauseCmd := &cobra.Command{
		Use:   "pause <group-id>",
		Short: "Pause a group's rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := c.do(http.MethodPost, "/api/v1/groups/"+args[0]+"/pause", map[string]string{"reason": pauseReason})
			if err != nil {
				return err
			}
			printJSON(raw)
			return nil
		},
	}
	pauseCmd.Flags().StringVar(&pauseReason, "reason", "admin", "Pause reason: payment_failures, all_paid, admin or subscription")

	retryCmd := &cobra.Command{
		Use:   "retry <group-id>",
		Short: "Resume a paused group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := c.do(http.MethodPost, "/api/v1/groups/"+args[0]+"/retry", nil)
			if err != nil {
				return err
			}
			printJSON(raw)
			return nil
		},
	}

	replayCmd := &cobra.Command{
		Use:   "replay-webhook <event-id>",
		Short: "Re-apply a stored gateway webhook event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := c.do(http.MethodPost, "/api/v1/webhooks/"+args[0]+"/replay", nil)
			if err != nil {
				return err
			}
			printJSON(raw)
			return nil
		},
	}

	root.AddCommand(statusCmd, pauseCmd, retryCmd, replayCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitRejected)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
