package main

import "github.com/baguette/Jokusoramame/cmd"

func main() {
	cmd.Execute()
}
