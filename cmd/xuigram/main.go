package main

import (
	"os"

	"github.com/davron/xuigram/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
