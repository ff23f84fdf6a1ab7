package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/mmynk/tatekae/internal/admin"
	"github.com/mmynk/tatekae/pkg/logging"
)

func main() {
	logger := logging.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := admin.Execute(ctx, os.Args[1:], os.Stdout, logger); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
