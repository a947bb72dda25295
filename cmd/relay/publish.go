package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"relay/internal/taskevent"
)

func newPublishCommand(cli *CLI) *cobra.Command {
	var (
		entity     string
		status     string
		taskID     string
		step       string
		statusText string
		preview    string
		errMsg     string
		progress   float64
	)

	cmd := &cobra.Command{
		Use:   "publish <scope-id>",
		Short: "Publish a test event to a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}

			event := taskevent.Event{
				Entity: taskevent.Entity(entity),
				ID:     taskID,
				Status: taskevent.Status(strings.ToUpper(status)),
				Payload: taskevent.Payload{
					Step:       step,
					StatusText: statusText,
					Preview:    preview,
					Error:      errMsg,
				},
			}
			if cmd.Flags().Changed("progress") {
				event.Payload.Progress = &progress
			}
			if !event.Entity.Valid() {
				return fmt.Errorf("unknown entity %q", entity)
			}
			if !event.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			return runPublish(cli, args[0], event)
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "report", "Entity kind: report, podcast, or agent-turn")
	cmd.Flags().StringVar(&status, "status", "PROGRESS", "Event status")
	cmd.Flags().StringVar(&taskID, "task", "", "Task id (generated server-side when empty)")
	cmd.Flags().StringVar(&step, "step", "", "Pipeline step")
	cmd.Flags().StringVar(&statusText, "text", "", "Status text")
	cmd.Flags().StringVar(&preview, "preview", "", "Result preview")
	cmd.Flags().StringVar(&errMsg, "error", "", "Failure message")
	cmd.Flags().Float64Var(&progress, "progress", 0, "Progress percentage")

	return cmd
}

func runPublish(cli *CLI, scopeID string, event taskevent.Event) error {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cli.cfg.Client.BaseURL, "/")).
		SetTimeout(10 * time.Second)
	if cli.cfg.Client.AuthToken != "" {
		client.SetHeader("Authorization", "Bearer "+cli.cfg.Client.AuthToken)
	}

	var out struct {
		ID      string `json:"id"`
		TS      string `json:"ts"`
		Clients int    `json:"clients"`
	}
	resp, err := client.R().
		SetBody(event).
		SetResult(&out).
		Post(fmt.Sprintf("/scopes/%s/events", scopeID))
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("publish event: status %d: %s", resp.StatusCode(), resp.String())
	}

	fmt.Printf("%s id=%s ts=%s clients=%d\n", green("published"), out.ID, out.TS, out.Clients)
	return nil
}
