package main

import "github.com/felixgeelhaar/storyloom/cmd/storyloom/cli"

func main() {
	cli.Execute()
}
