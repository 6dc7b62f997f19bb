package main

import (
	"fmt"
	"os"

	"lspsync/src/cli"
)

func run() int {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	if code := run(); code != 0 {
		os.Exit(code)
	}
}
