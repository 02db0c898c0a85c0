package session

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// IdleWatcher signs out devices that have been inactive for Timeout and
// did not ask to be remembered.  It is a convenience for shared browsers;
// the access token's own expiry is what actually ends a session.
type IdleWatcher struct {
	Manager  *Manager
	Mirror   Mirror
	Notifier Notifier
	Timeout  time.Duration
	Interval time.Duration
	Log      logrus.FieldLogger
	Now      func() time.Time
}

// Run sweeps every Interval until ctx is done.
func (w *IdleWatcher) Run(ctx context.Context) error {
	log := w.Log.WithField("component", "idle_watcher")
	log.WithFields(logrus.Fields{"timeout": w.Timeout, "interval": w.Interval}).Info("idle watcher started")
	t := time.NewTicker(w.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("idle watcher stopped")
			return ctx.Err()
		case <-t.C:
			if n := w.Sweep(ctx); n > 0 {
				log.WithField("signed_out", n).Info("idle sessions signed out")
			}
		}
	}
}

// Sweep checks each signed-in device once and returns how many were
// signed out.
func (w *IdleWatcher) Sweep(ctx context.Context) int {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	n := 0
	for _, s := range w.Manager.All() {
		if s.State().Session == nil {
			continue
		}
		vals, err := w.Mirror.All(ctx, s.DeviceID())
		if err != nil {
			w.Log.WithError(err).WithField("device_id", s.DeviceID()).Warn("read mirror failed")
			continue
		}
		if vals[KeyRememberMe] == "true" {
			continue
		}
		ms, err := strconv.ParseInt(vals[KeyLastActivityTime], 10, 64)
		if err != nil {
			continue
		}
		if now().Sub(time.UnixMilli(ms)) <= w.Timeout {
			continue
		}
		if err := s.SignOut(ctx); err != nil {
			w.Log.WithError(err).WithField("device_id", s.DeviceID()).Warn("idle sign out failed")
			continue
		}
		if w.Notifier != nil {
			w.Notifier.Notify(s.DeviceID(), "info", "Signed out after a period of inactivity")
		}
		w.Manager.Forget(s.DeviceID())
		n++
	}
	return n
}
