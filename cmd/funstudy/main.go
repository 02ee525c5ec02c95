package main

import "github.com/funstudy/funstudy/cmd/funstudy/cmd"

func main() {
	cmd.Execute()
}
