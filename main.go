package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arbloop/flasharb/cmd"
	"github.com/arbloop/flasharb/config"
	"github.com/arbloop/flasharb/utils"
)

func main() {
	_ = config.LoadEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	err := cmd.ExecuteContext(ctx)
	utils.CleanupLogger()
	if err != nil {
		os.Exit(1)
	}
}
