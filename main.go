// The main package for the dockets executable.
package main

import (
	"github.com/JakeFAU/docket-pipeline/cmd"
)

func main() {
	cmd.Execute()
}
