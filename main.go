package main

import "github.com/kiesman99/rasterpeek/cmd"

func main() {
	cmd.Execute()
}
