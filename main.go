package main

import (
	"fmt"
	"os"

	"glimpse/cli"
)

const Version = "v0.1.0"

func main() {
	rc, err := cli.Cli(os.Args[1:], cli.NewCliConfig(Version))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if rc == 0 {
			rc = 1
		}
	}
	os.Exit(rc)
}
