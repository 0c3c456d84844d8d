package main

import "github.com/aweris/dimgreg/cmd/dimgreg/cmd"

func main() {
	cmd.Execute()
}
