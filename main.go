package main

import "github.com/zonemaster/zmbroker/internal/cmd"

func main() {
	cmd.Main()
}
