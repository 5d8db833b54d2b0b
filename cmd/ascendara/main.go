package main

import (
	"go-ascendara-launcher/cmd/ascendara/cmd"
	"go-ascendara-launcher/internal/api"
)

func main() {
	// Ensure all API log file buffers are flushed and files closed on exit
	defer api.CloseAllLoggingTransports()

	cmd.Execute()
}
