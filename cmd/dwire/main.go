package main

import "github.com/ValentinKolb/dWire/cmd"

func main() {
	cmd.Execute()
}
