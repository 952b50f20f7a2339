package main

import (
	"os"

	"github.com/michaelpento.lv/cyclearb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
