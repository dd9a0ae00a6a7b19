package main

import (
	"os"

	"github.com/yankcheck/yankcheck/cmd/yankcheck/internal/cmd"
)

func main() {
	os.Exit(cmd.Run(os.Args, os.Stdout, os.Stderr))
}
