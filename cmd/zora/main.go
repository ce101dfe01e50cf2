package main

import (
	"os"

	"zora/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
