package main

import "github.com/MeKo-Tech/eventshot/cmd/eventshot/cmd"

func main() {
	cmd.Execute()
}
