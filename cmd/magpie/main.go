package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
)

// version stores a package-level helper value.
var version = "dev"

// main handles main.
func main() {
	c := &cli{}
	if err := fang.Execute(context.Background(), newRootCmd(c), fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}
