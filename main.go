package main

import "github.com/moeacgx/TelegramAutoClone/cmd"

func main() {
	cmd.Execute()
}
