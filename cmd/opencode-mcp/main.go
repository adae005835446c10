package main

import (
	"os"

	"github.com/lydakis/opencode-mcp/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
