package main

import "github.com/Rahulpedimalla/Aegis-Hub/pkg/cli"

func main() {
	cli.Execute()
}
