package main

import (
	"os"

	"github.com/solatis/critidx/cmd/critidx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
