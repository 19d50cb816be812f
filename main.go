package main

import (
	"os"

	"github.com/vircadia/vircadia-world-sub011/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
