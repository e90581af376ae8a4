// The main package for the serp-reporter executable.
package main

import (
	"github.com/JakeFAU/serp-reporter/cmd"
)

func main() {
	cmd.Execute()
}
