package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"relay/internal/invalidation"
	"relay/internal/scope"
	"relay/internal/transcript"
)

func newTailCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "tail <scope-id>",
		Short: "Follow a scope's task events as a live transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			return runTail(cli, args[0])
		},
	}
}

func runTail(cli *CLI, scopeID string) error {
	transport, err := cli.newTransport()
	if err != nil {
		return err
	}

	fetcher := scope.NewHTTPSnapshotFetcher(scope.HTTPSnapshotFetcherConfig{
		BaseURL:   cli.cfg.Client.BaseURL,
		AuthToken: cli.cfg.Client.AuthToken,
	})

	manager := scope.NewManager(scope.ManagerOptions{
		Transport: transport,
		Fetch:     fetcher.Fetch,
		Logger:    cli.newLogger("Tail"),
		Invalidate: func(keys []invalidation.Key) {
			for _, key := range keys {
				fmt.Println(gray("  ~ invalidate " + key.String()))
			}
		},
	})
	defer manager.CloseAll()

	manager.OnConnectionChange(func(id string, connected bool) {
		if connected {
			fmt.Println(green("* connected to " + id))
		} else {
			fmt.Println(yellow("* disconnected from " + id + ", reconnecting..."))
		}
	})

	session := manager.Open(scopeID)

	// The machine notifies with full snapshots; only the delta gets printed.
	printed := 0
	unsubscribe := session.Transcript().Subscribe(func(messages []transcript.Message) {
		for ; printed < len(messages); printed++ {
			printMessage(messages[printed])
		}
	})
	defer unsubscribe()

	fmt.Printf("%s %s\n", bold("Tailing scope"), cyan(scopeID))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println(gray("bye"))
	return nil
}

func printMessage(msg transcript.Message) {
	ts := gray(msg.CreatedAt.Format("15:04:05"))
	switch msg.Kind {
	case transcript.KindUser:
		fmt.Printf("%s %s %s\n", ts, blue("you"), msg.Text)
	case transcript.KindProgress:
		fmt.Printf("%s %s %s\n", ts, yellow("..."), msg.Text)
	case transcript.KindClarification:
		fmt.Printf("%s %s %s\n", ts, cyan("?"), indent(msg.Text))
	case transcript.KindResult:
		fmt.Printf("%s %s %s\n", ts, green("ok"), indent(msg.Text))
	case transcript.KindError:
		fmt.Printf("%s %s %s\n", ts, red("!!"), msg.Text)
	default:
		fmt.Printf("%s %s\n", ts, msg.Text)
	}
}

func indent(text string) string {
	return strings.ReplaceAll(text, "\n", "\n         ")
}
