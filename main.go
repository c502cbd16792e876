package main

import "github.com/patflick/kmerind/cmd"

func main() {
	cmd.Execute()
}
