// Package main starts the pulse realtime service and handles termination.
//
// The process fans marketplace mutations out to websocket subscribers, tracks
// ephemeral presence, and persists per-user notifications, so storefront pages
// can stay live without polling.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	pulsecmd "github.com/cldcde/pulse/internal/cmd/pulse"
)

func main() {
	cfg, err := pulsecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[PULSE] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pulsecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
