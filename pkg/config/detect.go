package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeDetector is the pluggable change-detection strategy behind
// Manager.Watch. Changed reports whether the configuration source differs
// from the committed baseline; Commit records the current state as the
// baseline after a successful reload.
type ChangeDetector interface {
	Changed() (bool, error)
	Commit() error
	Close() error
}

// PollDetector compares the file's modification time against the baseline
// observed at the last Commit. This is the default strategy.
type PollDetector struct {
	path string

	mu       sync.Mutex
	baseline time.Time
	seen     bool
}

func NewPollDetector(path string) *PollDetector {
	return &PollDetector{path: path}
}

func (d *PollDetector) Changed() (bool, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Absent file means default settings; nothing to reload.
			return false, nil
		}
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.seen {
		// No baseline yet: the file appeared after watching started.
		return true, nil
	}
	return !info.ModTime().Equal(d.baseline), nil
}

func (d *PollDetector) Commit() error {
	info, err := os.Stat(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			d.mu.Lock()
			d.seen = false
			d.mu.Unlock()
			return nil
		}
		return err
	}
	d.mu.Lock()
	d.baseline = info.ModTime()
	d.seen = true
	d.mu.Unlock()
	return nil
}

func (d *PollDetector) Close() error { return nil }

// NotifyDetector substitutes filesystem notifications for mtime polling.
// Events are accumulated by a watcher goroutine; Changed drains the flag.
type NotifyDetector struct {
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	pending bool
}

func NewNotifyDetector(path string) (*NotifyDetector, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	d := &NotifyDetector{watcher: w, done: make(chan struct{})}
	go d.run(path)
	return d, nil
}

func (d *NotifyDetector) run(path string) {
	for {
		select {
		case <-d.done:
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			// Editors replace files via rename; re-add so later writes
			// are still observed.
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				_ = d.watcher.Add(path)
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				d.mu.Lock()
				d.pending = true
				d.mu.Unlock()
			}
		case _, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (d *NotifyDetector) Changed() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending, nil
}

func (d *NotifyDetector) Commit() error {
	d.mu.Lock()
	d.pending = false
	d.mu.Unlock()
	return nil
}

func (d *NotifyDetector) Close() error {
	close(d.done)
	return d.watcher.Close()
}
