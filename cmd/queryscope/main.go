package main

import (
	"os"

	"github.com/queryscope/queryscope/cmd/queryscope/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
