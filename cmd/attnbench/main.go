// Idiomatic entrypoint for the Cobra CLI; all logic lives in cmd/root.go.
package main

import (
	"github.com/ajroetker/sdpa-engine/cmd/attnbench/cmd"
)

func main() {
	cmd.Execute()
}
