// The main package for the landscraper executable.
package main

import (
	"github.com/JakeFAU/landrecord-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
