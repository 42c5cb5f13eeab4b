// Command ldapsyncctl runs and inspects directory syncs from the shell
package main

import (
	"os"
)

var (
	Version    = "dev"
	CommitHash = "unknown"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}
