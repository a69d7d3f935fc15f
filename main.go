package main

import (
	"github.com/tsmigrate/tsm/cmd"
)

func main() {
	cmd.Execute()
}
