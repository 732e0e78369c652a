package main

import (
	"os"

	"github.com/fbmirror/fbmirror/cmd/fbmirror/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
