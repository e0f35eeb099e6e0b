package main

import (
	"os"

	"github.com/G-Research/logshipper/cmd/logshipper/cmd"
	"github.com/G-Research/logshipper/internal/common"
)

func main() {
	common.ConfigureLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
