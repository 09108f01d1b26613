package main

import "turnrelay/cmd"

func main() {
	cmd.Execute()
}
