package main

import "github.com/john/orchid/internal/cli"

func main() {
	cli.Execute()
}
