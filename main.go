// Package main is the entry point for the threatgate CLI.
package main

import (
	"os"

	"threatgate/cmd"
)

func main() {
	os.Exit(cmd.ExitCode(cmd.Execute()))
}
