package main

import "github.com/poe2oai/gateway/cmd"

func main() {
	cmd.Execute()
}
