package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/config"

	"github.com/spf13/cobra"
)

type enqueueOptions struct {
	url        string
	action     string
	userID     string
	userGroups []string
	sessionID  string
	provider   string
	model      string
	mode       string
	sourceMode string
	workspace  string
	noStream   bool
	eventFile  string
}

var enqueueOpts enqueueOptions

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [text]",
	Short: "Publish a chat-turn event to a running worker",
	Long:  "Encodes a run or heartbeat event the way producers publish it and posts it to the worker's /records endpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := enqueueBody(enqueueOpts, args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		url := strings.TrimSpace(enqueueOpts.url)
		if url == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url = recordsURL(cfg)
		}

		id, err := postRecord(cmd.Context(), url, body)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)

	flags := enqueueCmd.Flags()
	flags.StringVar(&enqueueOpts.url, "url", "", "records endpoint (defaults to the configured gateway address)")
	flags.StringVar(&enqueueOpts.action, "action", chat.ActionRun, "event action (run or heartbeat)")
	flags.StringVarP(&enqueueOpts.userID, "user", "u", "", "user id")
	flags.StringSliceVar(&enqueueOpts.userGroups, "group", nil, "user group (repeatable)")
	flags.StringVarP(&enqueueOpts.sessionID, "session", "s", "", "session id")
	flags.StringVar(&enqueueOpts.provider, "provider", "openai", "adapter provider")
	flags.StringVarP(&enqueueOpts.model, "model", "m", "", "model name")
	flags.StringVar(&enqueueOpts.mode, "mode", "chain", "run mode")
	flags.StringVar(&enqueueOpts.sourceMode, "source", chat.SourceInternal, "source mode (internal, web, hybrid)")
	flags.StringVar(&enqueueOpts.workspace, "workspace", "", "workspace id")
	flags.BoolVar(&enqueueOpts.noStream, "no-stream", false, "disable token streaming")
	flags.StringVarP(&enqueueOpts.eventFile, "file", "f", "", "read a complete event JSON from file (- for stdin)")
}

// enqueueBody builds the encoded envelope from flags, or from an event file.
func enqueueBody(opts enqueueOptions, args []string, stdin io.Reader) ([]byte, error) {
	event, err := buildEvent(opts, args, stdin)
	if err != nil {
		return nil, err
	}

	body, err := chat.Encode(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	if _, err := chat.Decode(body); err != nil {
		return nil, err
	}
	return body, nil
}

func buildEvent(opts enqueueOptions, args []string, stdin io.Reader) (chat.Event, error) {
	if path := strings.TrimSpace(opts.eventFile); path != "" {
		return readEventFile(path, stdin)
	}

	event := chat.Event{
		Action:     strings.ToLower(strings.TrimSpace(opts.action)),
		UserID:     strings.TrimSpace(opts.userID),
		UserGroups: opts.userGroups,
		SessionID:  strings.TrimSpace(opts.sessionID),
	}

	var data any
	switch event.Action {
	case chat.ActionHeartbeat:
		data = chat.HeartbeatPayload{SessionID: event.SessionID}
	case chat.ActionRun:
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return chat.Event{}, errors.New("prompt text is required for run events")
		}
		if strings.TrimSpace(opts.model) == "" {
			return chat.Event{}, errors.New("--model is required for run events")
		}

		payload := chat.RunPayload{
			Provider:    strings.TrimSpace(opts.provider),
			ModelName:   strings.TrimSpace(opts.model),
			Mode:        opts.mode,
			Text:        text,
			WorkspaceID: opts.workspace,
			SourceMode:  opts.sourceMode,
			SessionID:   event.SessionID,
		}
		if opts.noStream {
			payload.ModelKwargs = map[string]any{"streaming": false}
		}
		data = payload
	default:
		return chat.Event{}, fmt.Errorf("unsupported action %q", opts.action)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return chat.Event{}, fmt.Errorf("encode event data: %w", err)
	}
	event.Data = raw
	return event, nil
}

func readEventFile(path string, stdin io.Reader) (chat.Event, error) {
	var (
		content []byte
		err     error
	)
	if path == "-" {
		content, err = io.ReadAll(stdin)
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return chat.Event{}, fmt.Errorf("read event: %w", err)
	}

	var event chat.Event
	if err := json.Unmarshal(content, &event); err != nil {
		return chat.Event{}, fmt.Errorf("parse event: %w", err)
	}
	return event, nil
}

func recordsURL(cfg *config.Config) string {
	host := strings.TrimSpace(cfg.Gateway.Host)
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	port := cfg.Gateway.Port
	if port <= 0 {
		port = 18790
	}
	return "http://" + host + ":" + strconv.Itoa(port) + "/records"
}

func postRecord(ctx context.Context, url string, body []byte) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post record: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("post record: status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var accepted struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &accepted); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return accepted.ID, nil
}
