package main

import "github.com/vietddude/govwatch/internal/cli"

func main() {
	cli.Execute()
}
