// Package systemd speaks the sd_notify protocol. Every call is a no-op when
// the process is not started by systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends state changes to the service manager.
type Notifier struct {
	notify   func(unsetEnv bool, state string) (bool, error)
	watchdog func(unsetEnv bool) (time.Duration, error)
}

func New() *Notifier {
	return &Notifier{notify: daemon.SdNotify, watchdog: daemon.SdWatchdogEnabled}
}

// Ready reports READY=1. The bool is false when there is no service manager.
func (n *Notifier) Ready() (bool, error) { return n.notify(false, daemon.SdNotifyReady) }

// Stopping reports STOPPING=1.
func (n *Notifier) Stopping() (bool, error) { return n.notify(false, daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) (bool, error) { return n.notify(false, "STATUS="+s) }

// WatchdogInterval returns the keepalive period (half of WatchdogSec) or 0 when disabled.
func (n *Notifier) WatchdogInterval() time.Duration {
	d, err := n.watchdog(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// RunWatchdog pings WATCHDOG=1 until ctx is done. healthy gates each ping so a
// wedged process gets restarted; nil means always healthy.
func (n *Notifier) RunWatchdog(ctx context.Context, healthy func() bool) {
	every := n.WatchdogInterval()
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy == nil || healthy() {
				_, _ = n.notify(false, daemon.SdNotifyWatchdog)
			}
		}
	}
}
