package paychan

import "github.com/gcash/bchlog"

// log is the package-wide logger. It is disabled by default; hosts wire in
// a real backend with UseLogger before starting any channels.
var log = bchlog.Disabled

// UseLogger sets the package-wide logger. Any calls to this function must
// be made before a ClientState or ServerState is created and used (it is
// not concurrency safe).
func UseLogger(logger bchlog.Logger) {
	log = logger
}
