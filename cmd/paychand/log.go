package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gcash/bchlog"
	"github.com/jrick/logrotate/rotator"
	"github.com/paychand/paychand/paychan"
)

// logWriter tees log output to stdout and, once initLogRotator has run, to
// the rotating log file — grounded on the daemon's build.LogWriter
// (daemon/log.go).
type logWriter struct {
	mu         sync.Mutex
	rotatorOut io.Writer
}

func (w *logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	w.mu.Lock()
	out := w.rotatorOut
	w.mu.Unlock()
	if out != nil {
		return out.Write(p)
	}
	return len(p), nil
}

var (
	logOut     = &logWriter{}
	backendLog = bchlog.NewBackend(logOut)
	logRotator *rotator.Rotator
	pychLog    = backendLog.Logger("PYCH")
)

func init() {
	paychan.UseLogger(pychLog)
}

// initLogRotator initializes the rotating log file. It must run before any
// subsystem logger is used, grounded on the daemon's own initLogRotator
// (daemon/log.go).
func initLogRotator(logFile string, maxFileSizeKB, maxFiles int) {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, int64(maxFileSizeKB), false, maxFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logOut.mu.Lock()
	logOut.rotatorOut = pw
	logOut.mu.Unlock()
	logRotator = r
}
