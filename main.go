package main

import "tinypng/cmd"

func main() {
	cmd.Execute()
}
