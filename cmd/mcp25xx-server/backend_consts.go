package main

import "time"

const (
	txQueueSize   = 1024 // capacity of the chip TX queue
	vcanQueueSize = 256  // capacity of the mirror TX queue
	rxBackoffMin  = 20 * time.Millisecond
	rxBackoffMax  = 500 * time.Millisecond
	// modeTimeout bounds the wait for the chip to leave configuration mode;
	// it only switches once the bus has been idle for 11 recessive bits.
	modeTimeout   = time.Second
	modePollEvery = time.Millisecond
)
