// Command troubleshootctl administers the troubleshooting graph directly
// against the configured store: export and import categories, validate
// issues and sweep idle sessions.
package main

import (
	"fmt"
	"os"
)

func main() {
	err := rootCmd.Execute()
	if container != nil {
		_ = container.Logger.Sync()
	}
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
