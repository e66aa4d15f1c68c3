package main

import "bidding-engine/internal/cli"

func main() {
	cli.Execute()
}
