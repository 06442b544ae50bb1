package main

import (
	"fmt"
	"os"

	"github.com/danmuck/ubind/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ubindctl: %v\n", err)
		os.Exit(1)
	}
}
