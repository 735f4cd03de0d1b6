package main

import "github.com/timvw/pane-relay/cmd"

func main() {
	cmd.Execute()
}
