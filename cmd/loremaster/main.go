package main

import (
	"os"

	. "github.com/stevegt/goadapt"

	"loremaster/cli"
)

// main simply calls the cli package's Cli() function
func main() {
	config := cli.NewCliConfig()
	rc, err := cli.Cli(os.Args[1:], config)
	Ck(err)
	os.Exit(rc)
}
