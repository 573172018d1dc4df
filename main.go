package main

import "github.com/codigosgratis/wikisync/cmd"

func main() {
	cmd.Execute()
}
