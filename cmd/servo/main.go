// Command servo reads and writes values on a Servo endpoint.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/fatih/color"
)

func main() {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errSilent) {
			color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
