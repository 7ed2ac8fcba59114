package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jumepi/polar-h10-health-checker/internal/tui/app"
	"github.com/jumepi/polar-h10-health-checker/internal/tui/client"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the h10mon server")
	token := flag.String("token", os.Getenv("H10_TOKEN"), "Auth token (if the server requires it)")
	exportDir := flag.String("export-dir", ".", "Directory for exported sessions")
	flag.Parse()

	httpBase, err := client.DeriveHTTPBase(*wsURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ws := client.NewWSClient(*wsURL, *token)
	httpClient := client.NewHTTPClient(httpBase, *token)

	m := app.New(ws, httpClient)
	m.SetExportDir(*exportDir)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
