// rtpmidid - an AppleMIDI / RTP-MIDI bridge that republishes network MIDI
// into a shared-memory mailbox for the hardware shim.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rtpmidid/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rtpmidid: %v\n", err)
		os.Exit(1)
	}
}
