package main

import "hookq/cmd"

func main() {
	cmd.Run()
}
