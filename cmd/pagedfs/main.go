package main

import (
	"os"

	"github.com/marmos91/pagedfs/cmd/pagedfs/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
