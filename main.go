package main

import "github.com/theirongolddev/furnace/cmd"

func main() {
	cmd.Execute()
}
