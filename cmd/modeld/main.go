// Command modeld runs the model-serving core described in SPEC_FULL.md:
// it owns a Model Repository Manager, the dynamic batching schedulers, and
// the Server façade, and exposes the ambient admin/observability HTTP
// surface (internal/httpapi) alongside them.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Error().Err(err).Msg("modeld failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
