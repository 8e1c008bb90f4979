// Command tokenctl is an interactive inspector for the Token Editor and
// Recursive Context Environment: create context nodes, edit their tokens,
// spawn/fork/peer children, and step generation against either the
// deterministic stub adapter or a real model (build with -tags native).
package main

import (
	"os"

	"tokenforge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
