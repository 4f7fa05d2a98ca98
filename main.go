package main

import "github.com/Nitishvarma50/app-p2p/cmd"

func main() {
	cmd.Execute()
}
