package main

import (
	"os"

	"github.com/controlled-anonymity/client-go/cmd/chat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
