// Package main provides the wasslago command line entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/elwassit-org/api-translation-wasslago/cmd/wasslago/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
