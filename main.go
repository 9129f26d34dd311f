package main

import "github.com/keymint-ta/core/cmd"

func main() {
	cmd.Execute()
}
