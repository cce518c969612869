package main

import (
	"os"

	tethercmder "github.com/papercomputeco/tether/cmd/tether"
)

func main() {
	cmd := tethercmder.NewTetherCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
