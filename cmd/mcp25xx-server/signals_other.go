//go:build !unix

package main

import "os"

// debugToggle is nil where SIGUSR1 does not exist.
var debugToggle os.Signal
