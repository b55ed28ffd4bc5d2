// Command trackctl administers the track-mcp authorization server: schema
// migration, client registration, tool catalog inspection and refresh
// token audit.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/providentiaww/track-mcp/internal/config"
)

const version = "v1.0.0"

func main() {
	config.LoadEnv(context.Background(), "../../.env")
	if err := newRootCmd(openStoreFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
