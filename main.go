package main

import "github.com/nxnxha/RnGM/cmd"

func main() {
	cmd.Execute()
}
