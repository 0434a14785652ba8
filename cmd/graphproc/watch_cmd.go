package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/graphproc/internal/config"
	"github.com/mattjoyce/graphproc/internal/watch"
)

func runWatch(args []string) int {
	if hasHelpFlag(args) {
		printWatchHelp()
		return 0
	}

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("url", "", "Ops endpoint URL (default: from ops.listen)")
	token := fs.String("token", os.Getenv("GRAPHPROC_OPS_TOKEN"), "Ops bearer token")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	url, tok, err := resolveWatchTarget(*apiURL, *token, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(watch.NewClient(url, tok)))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// resolveWatchTarget picks the ops URL and token. Flags win; otherwise both
// come from the config's ops section.
func resolveWatchTarget(urlFlag, tokenFlag, configPath string) (string, string, error) {
	if urlFlag != "" {
		return urlFlag, tokenFlag, nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return "", "", fmt.Errorf("load config: %w", err)
	}
	if !cfg.Ops.Enabled {
		fmt.Fprintln(os.Stderr, "Warning: ops.enabled is false; the running instance may not serve the ops endpoint")
	}
	if tokenFlag == "" {
		tokenFlag = cfg.Ops.Token
	}
	return opsURL(cfg.Ops), tokenFlag, nil
}

// opsURL turns a listen address into something a client can dial. Wildcard
// hosts become localhost.
func opsURL(ops config.OpsConfig) string {
	listen := ops.Listen
	if strings.Contains(listen, "://") {
		return listen
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func printWatchHelp() {
	fmt.Println("Usage: graphproc watch [flags]")
	fmt.Println()
	fmt.Println("Live terminal view of a running instance: health, worker lanes and")
	fmt.Println("the processed-element event stream. Reads the ops endpoint.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH    Config used for ops.listen and ops.token")
	fmt.Println("  --url URL        Ops endpoint URL (overrides ops.listen)")
	fmt.Println("  --token TOKEN    Bearer token (or GRAPHPROC_OPS_TOKEN)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Select lane")
	fmt.Println("  r                Refresh now")
}
