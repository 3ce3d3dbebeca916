// The main package for the places-crawler executable.
package main

import (
	"github.com/mapsight/places-crawler/cmd"
)

func main() {
	cmd.Execute()
}
