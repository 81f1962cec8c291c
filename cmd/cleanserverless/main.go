package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], Dependencies{Out: os.Stdout, ErrOut: os.Stderr})
	stop()
	os.Exit(code)
}
