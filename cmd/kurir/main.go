package main

import (
	"os"

	"github.com/satrio/kurir/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
