// The main package for the fetchqueue executable.
package main

import (
	"github.com/JakeFAU/fetchqueue/cmd"
)

func main() {
	cmd.Execute()
}
