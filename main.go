// ./main.go
package main

import (
	"github.com/pagegym/pagegym/cmd"
)

// main is the entry point for the pagegym CLI.
func main() {
	cmd.Execute()
}
