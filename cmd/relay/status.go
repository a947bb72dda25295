package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relay/internal/poller"
)

func newStatusCommand(cli *CLI) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Poll a job's status until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			return runStatus(cli, args[0], watch)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", true, "Keep polling until the job reaches a terminal state")
	return cmd
}

func runStatus(cli *CLI, jobID string, watch bool) error {
	fetcher := poller.NewHTTPFetcher(poller.HTTPFetcherConfig{
		BaseURL:   cli.cfg.Client.BaseURL,
		AuthToken: cli.cfg.Client.AuthToken,
	})

	settled := make(chan error, 1)

	p := poller.New(fetcher.Fetch, poller.Options{
		PollInterval: cli.cfg.Client.PollInterval,
		MaxPollTime:  cli.cfg.Client.MaxPollTime,
		Logger:       cli.newLogger("Status"),
		OnStatusChange: func(status *poller.JobStatus) {
			printStatus(status)
			if !watch && !status.Status.Active() {
				settled <- nil
			}
		},
		OnComplete: func(status *poller.JobStatus) {
			fmt.Printf("%s %s\n", green("done:"), string(status.Result))
			settled <- nil
		},
		OnError: func(status *poller.JobStatus) {
			settled <- fmt.Errorf("job failed: %s", status.Error)
		},
		OnFetchError: func(err error) {
			fmt.Println(gray("  fetch error: " + err.Error()))
		},
	})
	p.Start(jobID)
	defer p.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-settled:
		return err
	case <-quit:
		fmt.Println(gray("interrupted"))
		return nil
	}
}

func printStatus(status *poller.JobStatus) {
	line := fmt.Sprintf("%s %s", bold(status.ID), statusColor(status.Status))
	if status.Progress != nil {
		line += fmt.Sprintf(" %.0f%%", *status.Progress)
	}
	if status.Message != "" {
		line += " " + gray(status.Message)
	}
	fmt.Println(line)
}

func statusColor(state poller.JobState) string {
	switch state {
	case poller.JobCompleted:
		return green(string(state))
	case poller.JobFailed:
		return red(string(state))
	case poller.JobCancelled:
		return yellow(string(state))
	default:
		return blue(string(state))
	}
}
