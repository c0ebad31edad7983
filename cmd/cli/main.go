package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hamed0406/modelstatus/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := SweepCommand{
		OutStream: os.Stdout,
		ErrStream: os.Stderr,
		Config:    config.Load(),
	}.Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
