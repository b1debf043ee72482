// Aero is a local first build, test and publish tool.
//
// Aero uses Docker to run pipeline steps concurrently as a dependency
// graph: independent steps execute in parallel and a step starts only once
// everything it needs has succeeded.
package main

import (
	"github.com/opnlabs/aero/cmd/aero"
)

func main() {
	aero.Execute()
}
