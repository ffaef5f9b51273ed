package main

import (
	"context"
	"log/slog"
	"os"
)

var App *ShadowApp

func main() {
	App = initApp()
	if err := App.cliCmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("Error", "msg", err)
		os.Exit(1)
	}
}
