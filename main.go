package main

import (
	"os"

	"ansible-vmmanager/src/cli"
)

func main() {
	os.Exit(cli.Execute())
}
