// Command livechat runs the reactive chat backend.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/livechat/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
