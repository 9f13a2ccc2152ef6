/*
Framepace renders a single triangle through a fenced, multi-buffered frame
pipeline. The configuration file is the first argument, framepace.toml by default.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/framepace/engine"
	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/testbed"
)

func main() {
	configPath := "framepace.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	config, err := engine.LoadConfig(configPath)
	if err != nil {
		core.LogFatal(err.Error())
	}

	tb := testbed.NewTestGame(config)

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal(err.Error())
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		e.Stop()
	}()

	// run engine
	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal(runErr.Error())
	}
}
