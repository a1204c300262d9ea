package main

import "github.com/soonkuk/ledgertxn/internal/ledgertxn/cli"

func main() {
	cli.Execute()
}
