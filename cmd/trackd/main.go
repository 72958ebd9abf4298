// Command trackd is the location tracking agent and its control CLI.
package main

import (
	"fmt"
	"os"

	"github.com/hanibalsk/trackd/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "trackd:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
