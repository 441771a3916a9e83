// Package main provides the rastore CLI.
//
// Usage:
//
//	rastore [flags] <command> [args]
//
// Commands:
//
//	write     - Write bytes at an offset
//	read      - Read bytes from an offset to stdout
//	del       - Zero a range, truncating when it reaches the end
//	truncate  - Resize the storage
//	len       - Print the storage length
//	stat      - Print backend, length and emptiness
//	sync      - Flush pending writes
//	export    - Copy the storage into a local file
//	import    - Copy a local file into the storage
//
// Configuration is read from rastore.yaml (see --config), a .env file in
// the working directory and RASTORE_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/bleepstore/rastore/cmd/rastore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
