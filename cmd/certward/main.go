package main

import "github.com/jmcleod/certward/cmd/certward/cmd"

func main() {
	cmd.Execute()
}
