// Package main is the entry point of the tabpilot binary.
package main

import (
	"context"

	"github.com/liuxd6825/tabpilot/cmd"
	"github.com/liuxd6825/tabpilot/cmd/state"
)

func main() {
	cmd.ExecuteWithGlobalState(state.NewGlobalState(context.Background()))
}
