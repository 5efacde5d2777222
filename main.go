package main

import (
	"scoreplay/cmd"
)

func main() {
	cmd.Execute()
}
