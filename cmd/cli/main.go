package main

import (
	"github.com/mchmarny/mathscore/pkg/cli"
)

func main() {
	cli.Execute()
}
