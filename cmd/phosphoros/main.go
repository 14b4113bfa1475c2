// Command phosphoros drives the render engine bridge from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/phosphoros/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "phosphoros:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
