package main

import (
	"os"

	"github.com/semdex/semdex/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
