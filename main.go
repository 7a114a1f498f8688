package main

import (
	"os"

	"github.com/logsift/logsift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
