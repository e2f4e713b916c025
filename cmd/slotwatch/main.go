// Package main is the entry point for the slotwatch CLI.
package main

import "github.com/slotwatch/slotwatch/internal/cli"

func main() {
	cli.Execute()
}
