package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newExplainCmd() *cobra.Command {
	var addr, key string
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Show the latest placement decision for a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAPI(cmd.Context(), cmd.OutOrStdout(), http.MethodGet, addr, "/api/v1/explain", key)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "daemon address")
	cmd.Flags().StringVar(&key, "key", "", "file key")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newTriggerCmd() *cobra.Command {
	var addr, key string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Re-evaluate a file now and enqueue its migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAPI(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, addr, "/api/v1/trigger", key)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "daemon address")
	cmd.Flags().StringVar(&key, "key", "", "file key")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// callAPI sends one request and pretty prints the JSON reply
func callAPI(ctx context.Context, out io.Writer, method, addr, path, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	target := strings.TrimRight(addr, "/") + path + "?key=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		body = pretty.Bytes()
	}
	_, _ = fmt.Fprintln(out, strings.TrimSpace(string(body)))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
