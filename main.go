// The main package for the climatedata executable.
package main

import "github.com/JakeFAU/iati-climate-dataset/cmd"

func main() {
	cmd.Execute()
}
