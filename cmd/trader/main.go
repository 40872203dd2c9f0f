// Command trader runs the trend execution engine.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"trend-trader/internal/cli"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := cli.NewRootCmd(logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
