package main

import "github.com/anshalkumar644/Eind-private-chat/internal/cli"

func main() {
	cli.Execute()
}
