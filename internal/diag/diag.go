// Package diag holds the optional debugging surface: a pprof HTTP
// endpoint shared by the subcommands.
package diag

import (
	"net/http"
	_ "net/http/pprof"

	"idev/internal/flog"
)

// StartPprof exposes net/http/pprof on addr in the background. An empty
// addr disables it.
func StartPprof(addr string) {
	if addr == "" {
		return
	}
	go func() {
		flog.Infof("pprof enabled on http://%s/debug/pprof/ (bind carefully)", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			flog.Errorf("pprof server failed: %v", err)
		}
	}()
}
