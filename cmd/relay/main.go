package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cli := &CLI{}

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Task event relay client",
		Long:  "Follow long-running task events over SSE/WebSocket, poll job status, and publish test events.",
	}

	rootCmd.PersistentFlags().StringVar(&cli.configPath, "config", "", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&cli.debug, "debug", "d", false, "Debug mode")
	rootCmd.PersistentFlags().StringVar(&cli.baseURL, "base-url", "", "API root, e.g. http://localhost:8080/api")
	rootCmd.PersistentFlags().StringVar(&cli.transport, "transport", "", "Push transport: sse or ws")
	rootCmd.PersistentFlags().StringVar(&cli.authToken, "token", "", "Bearer token")

	rootCmd.AddCommand(newTailCommand(cli))
	rootCmd.AddCommand(newStatusCommand(cli))
	rootCmd.AddCommand(newPublishCommand(cli))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
