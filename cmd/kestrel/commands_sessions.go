package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// buildSessionCmd creates the "session" command group, a thin HTTP client
// over the control surface described in SPEC_FULL.md §6 for scripting and
// manual operation alongside the browser UI.
func buildSessionCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage kestrel sessions over the HTTP control surface",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "kestrel server base URL")

	cmd.AddCommand(
		buildSessionListCmd(&addr),
		buildSessionCreateCmd(&addr),
		buildSessionKillCmd(&addr),
	)
	return cmd
}

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func buildSessionListCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []map[string]any
			if err := newAPIClient(*addr).do(http.MethodGet, "/sessions", nil, &out); err != nil {
				return err
			}
			for _, s := range out {
				fmt.Printf("%v\t%v\t%v\n", s["id"], s["name"], s["cwd"])
			}
			return nil
		},
	}
}

func buildSessionCreateCmd(addr *string) *cobra.Command {
	var cwd, copyFrom string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			body := map[string]string{"cwd": cwd, "copy_from_path": copyFrom}
			if err := newAPIClient(*addr).do(http.MethodPost, "/session/create", body, &out); err != nil {
				return err
			}
			fmt.Printf("session %v created in %v\n", out["session_id"], out["cwd"])
			return nil
		},
	}
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the new session")
	cmd.Flags().StringVar(&copyFrom, "copy-from", "", "path to copy into the new session's working directory")
	return cmd
}

func buildSessionKillCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <session-id>",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient(*addr).do(http.MethodDelete, "/session/"+args[0], nil, nil)
		},
	}
}
