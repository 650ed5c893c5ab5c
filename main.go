package main

import "github.com/nextlevelbuilder/teamdrive/cmd"

func main() {
	cmd.Execute()
}
