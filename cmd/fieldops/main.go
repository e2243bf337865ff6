package main

import "fieldops/cmd/cli"

func main() {
	cli.Execute()
}
