package main

import (
	"github.com/Halyard-Systems/halyard-finance/internal/cli"
)

func main() {
	cli.Execute()
}
