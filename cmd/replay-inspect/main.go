// replay-inspect reads replay blobs produced by gamerecorder, either from
// archived .gprec files or from the SQLite replay archive.
package main

import (
	"fmt"
	"os"

	"github.com/energizer-project/gamerecorder/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
