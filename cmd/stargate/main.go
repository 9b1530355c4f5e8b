package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║              Zentalk Stargate v" + version + "              ║")
	fmt.Println("║      Persistent client connections to stations    ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

// waitForShutdown blocks until SIGINT/SIGTERM or until done is closed
func waitForShutdown(done <-chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		fmt.Println()
	case <-done:
	}
}
