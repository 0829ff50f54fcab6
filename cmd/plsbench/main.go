// Command plsbench drives synthetic frames through a render backend and
// reports what the flush pipeline did with them.
//
//	plsbench backends
//	plsbench run scenario.yaml --metrics :9090 --linger 1m
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
