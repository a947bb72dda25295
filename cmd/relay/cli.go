package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"relay/internal/config"
	"relay/internal/logging"
	"relay/internal/stream"
)

// Color definitions for terminal output
var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// isTTY checks if the current environment has a TTY available
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func renderError(msg string) string {
	return red("error: " + msg)
}

// CLI carries the flags and resolved configuration shared by all commands.
type CLI struct {
	configPath string
	debug      bool
	baseURL    string
	transport  string
	authToken  string

	cfg config.Config
}

// initialize loads the config file and applies flag overrides.
func (c *CLI) initialize() error {
	if !isTTY() {
		color.NoColor = true
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	if c.baseURL != "" {
		cfg.Client.BaseURL = c.baseURL
	}
	if c.transport != "" {
		cfg.Client.Transport = c.transport
	}
	if c.authToken != "" {
		cfg.Client.AuthToken = c.authToken
	}
	if c.debug {
		cfg.LogLevel = "debug"
	}

	c.cfg = cfg
	return nil
}

// newLogger builds a component logger honoring the configured level.
func (c *CLI) newLogger(component string) logging.Logger {
	logger := logging.NewComponentLogger(component)
	logger.SetLevel(logging.ParseLevel(c.cfg.LogLevel))
	return logger
}

// newTransport builds the configured push transport.
func (c *CLI) newTransport() (stream.Transport, error) {
	headers := map[string]string{}
	if c.cfg.Client.AuthToken != "" {
		headers["Authorization"] = "Bearer " + c.cfg.Client.AuthToken
	}

	switch c.cfg.Client.Transport {
	case "sse":
		return stream.NewSSETransport(stream.SSEConfig{
			BaseURL: c.cfg.Client.BaseURL,
			Headers: headers,
		}), nil
	case "ws":
		return stream.NewWSTransport(stream.WSConfig{
			BaseURL: wsBaseURL(c.cfg.Client.BaseURL),
			Headers: headers,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", c.cfg.Client.Transport)
	}
}

// wsBaseURL rewrites an http(s) API root to its ws(s) equivalent.
func wsBaseURL(base string) string {
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(base, "http://"); ok {
		return "ws://" + rest
	}
	return base
}
