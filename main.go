package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"

	"github.com/xyb/chunksum/command"
)

var (
	name    = "chunksum"
	version = "0.1.0"
)

func main() {
	c := cli.NewCLI(name, version)
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"scan": command.NewScan,
	}

	status, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", name, err)
	}

	os.Exit(status)
}
