package main

import "classlink/cmd/classlink/command"

func main() {
	command.Execute()
}
