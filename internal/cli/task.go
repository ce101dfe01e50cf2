package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"zora/internal/config"
	"zora/internal/event"
)

// NewTaskCmd builds the task command: submit a prompt to the running
// daemon over its local API.
func NewTaskCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "task <prompt>",
		Short: "Submit a task to the running daemon",
		Args:  cobra.MinimumNArgs(1),
		Example: `  # Fire and forget
  zora task "tidy my downloads folder"

  # Stream the agent's output until the task finishes
  zora task --follow "summarize today's notes"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := gatewayBase()
			if err != nil {
				return err
			}
			prompt := strings.Join(args, " ")

			jobID, err := submitTask(base, prompt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobID)

			if follow {
				return followJob(cmd, base, jobID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream events until the task reaches a terminal state")
	return cmd
}

// gatewayBase resolves the daemon address from the installation config.
func gatewayBase() (string, error) {
	paths, err := config.NewPaths(globalFlags.Home)
	if err != nil {
		return "", err
	}
	cfg, err := config.Load(paths)
	if err != nil {
		return "", err
	}
	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	return "http://" + addr, nil
}

func submitTask(base, prompt string) (string, error) {
	body, _ := json.Marshal(map[string]string{"prompt": prompt})
	resp, err := http.Post(base+"/api/task", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK    bool   `json:"ok"`
		JobID string `json:"jobId"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("submission rejected: %s", out.Error)
	}
	return out.JobID, nil
}

// followJob tails the SSE stream, printing this job's text output until
// a terminal event arrives.
func followJob(cmd *cobra.Command, base, jobID string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, base+"/api/events", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var env event.Envelope
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env); err != nil {
			continue
		}
		var payload struct {
			JobID string      `json:"job_id"`
			Event event.Event `json:"event"`
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.JobID != jobID {
			continue
		}

		e := payload.Event
		switch e.Kind {
		case event.KindText:
			fmt.Fprint(cmd.OutOrStdout(), e.Text)
		case event.KindToolCall:
			if e.ToolCall != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n[tool] %s\n", e.ToolCall.Tool)
			}
		case event.KindDone:
			if e.Done != nil && e.Done.Text != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "\n"+e.Done.Text)
			}
			return nil
		case event.KindError:
			msg := "task failed"
			if e.Error != nil {
				msg = e.Error.Message
			}
			return fmt.Errorf("%s", msg)
		}
	}
	return scanner.Err()
}
