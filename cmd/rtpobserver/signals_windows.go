//go:build windows

package main

import (
	"os"
	"syscall"
)

func getShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

func handlePlatformSignal(sig os.Signal, app *App) bool {
	return false
}
