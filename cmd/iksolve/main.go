// Package main is a command line front end to the IK engine: it reads a skeleton, chains and
// goals from a config file, solves, and prints the resulting pose.
package main

import (
	"os"

	"go.viam.com/articulated/logging"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.NewLogger("iksolve").Fatal(err)
	}
}
