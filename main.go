package main

import "github.com/threadlinehq/threadline/cmd"

func main() {
	cmd.Execute()
}
