package main

import (
	"os"

	"github.com/littlehelper/littlehelper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
