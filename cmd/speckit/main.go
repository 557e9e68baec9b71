package main

import "github.com/xuezhouyang/spec-kit-catpaw/internal/cli"

func main() {
	cli.Execute()
}
