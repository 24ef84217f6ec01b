// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

// Command taskpad is a small task list that works instantly offline
// and reconciles with a sync server when a session token is
// configured. It exists to exercise the localsync engine end to end.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
