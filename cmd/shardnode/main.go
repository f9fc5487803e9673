package main

import (
	"github.com/nightshard/shardnode/cmd/shardnode/cmd"
)

func main() {
	cmd.Execute()
}
