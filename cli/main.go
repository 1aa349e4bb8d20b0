// Command gorel inspects and queries the databases configured for gorel.
package main

import (
	"os"

	"github.com/satishbabariya/gorel/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
