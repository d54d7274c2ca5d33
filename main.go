package main

import "github.com/overkillkulture/araya-discord-bot/cmd"

func main() {
	cmd.Execute()
}
