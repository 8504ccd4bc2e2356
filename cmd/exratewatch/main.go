package main

import "exrate-watch/internal/cli"

func main() {
	cli.Execute()
}
