package main

import "github.com/dgnsrekt/flowcapture/internal/cli"

func main() {
	cli.Execute()
}
