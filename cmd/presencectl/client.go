package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/presencectl/internal/config"
	"github.com/danmuck/presencectl/internal/control"
	"github.com/danmuck/presencectl/internal/presence"
	"github.com/spf13/cobra"
)

const (
	envControlAddr  = "PRESENCECTL_ADDR"
	envControlToken = "PRESENCECTL_TOKEN"
)

// apiClient talks to a running daemon's control API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(addr, token string, timeout time.Duration) *apiClient {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = control.DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &apiClient{
		base:  strings.TrimRight(addr, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// clientFlags are the connection flags shared by every client command.
type clientFlags struct {
	addr    string
	token   string
	timeout time.Duration
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", envOr(envControlAddr, control.DefaultAddr), "control API address")
	cmd.Flags().StringVar(&f.token, "token", envOr(envControlToken, ""), "control API bearer token")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "request timeout")
}

func (f *clientFlags) client() *apiClient {
	return newAPIClient(f.addr, f.token, f.timeout)
}

func statusCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon connection status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st control.StatusResponse
			if err := flags.client().do(cmd.Context(), http.MethodGet, "/status", nil, &st); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "state:            %s\n", st.State)
			fmt.Fprintf(w, "app id:           %s\n", st.AppID)
			if st.Endpoint != "" {
				fmt.Fprintf(w, "endpoint:         %s\n", st.Endpoint)
			}
			if st.User != nil {
				fmt.Fprintf(w, "user:             %s (%s)\n", st.User.Username, st.User.ID)
			}
			if st.ConnectedAt != nil {
				fmt.Fprintf(w, "connected at:     %s\n", st.ConnectedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(w, "presence pending: %t\n", st.PresencePending)
			fmt.Fprintf(w, "join requests:    %d\n", st.JoinRequests)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func setCmd() *cobra.Command {
	var flags clientFlags
	var file string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Queue a presence document from a TOML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			doc, err := config.LoadActivityFile(file)
			if err != nil {
				return err
			}
			if err := flags.client().do(cmd.Context(), http.MethodPut, "/presence", doc, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "presence queued from %s\n", file)
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "presence document (TOML)")
	return cmd
}

func clearCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop the pending presence document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				PendingDropped bool `json:"pending_dropped"`
			}
			if err := flags.client().do(cmd.Context(), http.MethodDelete, "/presence", nil, &out); err != nil {
				return err
			}
			if out.PendingDropped {
				fmt.Fprintln(cmd.OutOrStdout(), "pending presence dropped")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending presence")
			}
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func connectCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Ask the daemon to connect now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				State string `json:"state"`
			}
			if err := flags.client().do(cmd.Context(), http.MethodPost, "/connect", nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected state=%s\n", out.State)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func disconnectCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Close the daemon connection and pause reconnects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Status string `json:"status"`
			}
			if err := flags.client().do(cmd.Context(), http.MethodPost, "/disconnect", nil, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Status)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func replyCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "reply <user_id> <yes|no|ignore>",
		Short: "Answer a pending join request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := presence.ParseJoinReply(args[1])
			if err != nil {
				return err
			}
			path := "/join-requests/" + url.PathEscape(args[0]) + "/reply"
			body := control.ReplyRequest{Reply: reply.String()}
			if err := flags.client().do(cmd.Context(), http.MethodPost, path, body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replied %s to %s\n", reply, args[0])
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func eventsCmd() *cobra.Command {
	var flags clientFlags
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent engine events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Events []control.Event `json:"events"`
			}
			path := "/events?limit=" + strconv.Itoa(limit)
			if err := flags.client().do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, ev := range out.Events {
				line := fmt.Sprintf("%d %s %s", ev.Seq, ev.At.Format(time.RFC3339), ev.Kind)
				if ev.Code != nil {
					line += fmt.Sprintf(" code=%d", *ev.Code)
				}
				if ev.Message != "" {
					line += fmt.Sprintf(" message=%q", ev.Message)
				}
				if ev.UserID != "" {
					line += fmt.Sprintf(" user=%s(%s)", ev.Username, ev.UserID)
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum events to list, 0 for all")
	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
