package gpnet

import (
	"os"
	"os/signal"
	"syscall"

	"gpnet/cluster"
	"gpnet/module"

	"github.com/yinyihanbing/gutils/logs"
)

// Run starts mods and the cluster links, then blocks until SIGINT or
// SIGTERM and shuts everything down.
func Run(mods ...module.Module) {
	logs.Info("gpnet starting up")

	Start(mods...)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	signal.Stop(c)
	logs.Info("gpnet closing down (signal: %v)", sig)
	Stop()
}

// Start registers and initializes mods, then opens the cluster links.
func Start(mods ...module.Module) {
	for _, mi := range mods {
		module.Register(mi)
	}
	module.Init()

	cluster.Init()
}

// Stop closes the cluster links and destroys the modules in reverse order.
func Stop() {
	cluster.Destroy()
	module.Destroy()
}
