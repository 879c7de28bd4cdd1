package main

import (
	"os"

	"github.com/xsurvey/xsurvey/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
