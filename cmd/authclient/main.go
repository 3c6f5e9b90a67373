package main

import (
	"fmt"
	"os"

	"github.com/marmos91/gridauth/cmd/authclient/commands"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	code, err := commands.Execute(os.Args[1:])
	if err != nil && commands.ShouldReport(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}
