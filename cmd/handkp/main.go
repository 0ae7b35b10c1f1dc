package main

import "github.com/ayusman/handkp/internal/cli"

func main() {
	cli.Execute()
}
