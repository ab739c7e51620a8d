package cli

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// watchSignals sets flag once SIGINT or SIGTERM arrives, implementing
// the cooperative cancellation token checked between items in a
// long-running loop. A second signal restores default handling so an
// unresponsive loop can still be killed outright.
func watchSignals(flag *atomic.Bool) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	flag.Store(true)
	signal.Stop(ch)
}
