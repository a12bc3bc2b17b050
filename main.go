package main

import "github.com/kozaktomas/wasl-gate/cmd"

func main() {
	cmd.Execute()
}
