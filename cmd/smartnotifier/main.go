// Package main provides the smartnotifier CLI.
package main

import (
	"os"

	"github.com/mesh-intelligence/smartnotifier/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
