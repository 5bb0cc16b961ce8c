package main

import "factforge/client/factforge-cli/cmd"

func main() {
	cmd.Execute()
}
