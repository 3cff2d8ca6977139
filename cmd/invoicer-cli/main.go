package main

import (
	"os"

	"github.com/platinummonkey/invoicer/pkg/cli"
)

func main() {
	env := cli.DefaultEnv()
	if err := cli.NewRootCommand(env).Execute(os.Args[1:]); err != nil {
		env.Logger.Errorf("Error: %v", err)
		os.Exit(1)
	}
}
