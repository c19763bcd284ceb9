// Command matchlog archives match-history records from a rate-limited game
// API.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/matchlog/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
