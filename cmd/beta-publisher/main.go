package main

import "github.com/oshokin/beta-publisher/cmd/beta-publisher/cmd"

func main() {
	cmd.Execute()
}
