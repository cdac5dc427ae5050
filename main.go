package main

import "github.com/retailpulse/harvester/cmd"

func main() {
	cmd.Execute()
}
