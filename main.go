package main

import "github.com/jsphweid/abcxml/cmd"

func main() {
	cmd.Execute()
}
