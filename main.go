package main

import (
	"os"

	"github.com/hayoon/kistrade/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		cli.DisplayError(err)
		os.Exit(1)
	}
}
