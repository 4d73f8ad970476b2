package main

import "github.com/nogataka/cc-discussion/cmd"

func main() {
	cmd.Execute()
}
