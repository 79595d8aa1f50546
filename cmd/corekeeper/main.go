package main

import "github.com/oshokin/corekeeper/cmd/corekeeper/cmd"

func main() {
	cmd.Execute()
}
