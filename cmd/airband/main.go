// cmd/airband/main.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// airband coordinates live playback of airband radio transmissions for
// browser dashboards: it follows a transmission feed, queues and plays new
// traffic as it arrives, and streams playback state to connected clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
