//go:build unix

package main

import (
	"os"
	"syscall"
)

// debugToggle is the signal that flips debug logging.
var debugToggle os.Signal = syscall.SIGUSR1
