package main

import "nodesentinel/internal/cli"

func main() {
	cli.Execute()
}
