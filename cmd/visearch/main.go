package main

import "visearch/internal/cli"

func main() {
	cli.Execute()
}
