package main

import (
	"os"

	"github.com/rustyeddy/teals/cmd/teals/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
