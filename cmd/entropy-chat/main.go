// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command entropy-chat is a terminal client for a running ENTROPY server.
//
// Usage:
//
//	# One-shot question
//	entropy-chat ask "What is AAPL trading at?"
//
//	# Interactive session (shared session id, Ctrl-D to exit)
//	entropy-chat chat --session my-session
//
//	# Against a non-default server
//	entropy-chat ask --server http://prod:8080 "Latest news on TSLA"
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const requestTimeout = 120 * time.Second

type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response       string  `json:"response"`
	CostUSD        float64 `json:"cost_usd"`
	Agent          string  `json:"agent_used"`
	SessionID      string  `json:"session_id"`
	PrefetchActive bool    `json:"prefetch_active"`
}

func main() {
	var (
		server  string
		session string
	)

	root := &cobra.Command{
		Use:   "entropy-chat",
		Short: "Terminal client for an ENTROPY server",
	}
	root.PersistentFlags().StringVar(&server, "server", "http://localhost:8080", "ENTROPY server base URL")
	root.PersistentFlags().StringVar(&session, "session", "", "Session id (generated when empty)")

	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendQuery(cmd.Context(), server, strings.Join(args, " "), sessionOrNew(session))
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation sharing one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), cmd.OutOrStdout(), server, sessionOrNew(session))
		},
	}

	root.AddCommand(ask, chat)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func sessionOrNew(session string) string {
	if session != "" {
		return session
	}
	return "cli-" + uuid.NewString()[:8]
}

func runInteractive(ctx context.Context, out io.Writer, server, session string) error {
	fmt.Fprintf(out, "ENTROPY chat (session %s). Ctrl-D to exit.\n", session)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}

		resp, err := sendQuery(ctx, server, query, session)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		printResponse(out, resp)
	}
}

func sendQuery(ctx context.Context, server, query, session string) (*chatResponse, error) {
	payload, err := json.Marshal(chatRequest{Query: query, SessionID: session})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(server, "/")+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s: %s", httpResp.Status, strings.TrimSpace(string(body)))
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &resp, nil
}

func printResponse(out io.Writer, resp *chatResponse) {
	fmt.Fprintln(out, resp.Response)
	suffix := ""
	if resp.PrefetchActive {
		suffix = ", prefetch active"
	}
	fmt.Fprintf(out, "  [%s, $%.4f%s]\n", resp.Agent, resp.CostUSD, suffix)
}
