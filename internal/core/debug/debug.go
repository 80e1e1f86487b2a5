package debug

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/chatrelay/internal/packets"
)

// StartUtilities spins off the services associated with debug mode. The
// returned server should be closed on shutdown.
func StartUtilities(logger *logrus.Logger, pprofPort int) *http.Server {
	return startPprofServer(logger, pprofPort)
}

// This function starts the default pprof HTTP server that can be accessed via localhost
// to get runtime information about the relay. See https://golang.org/pkg/net/http/pprof/
func startPprofServer(logger *logrus.Logger, port int) *http.Server {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting pprof server on %s", listenerAddr)

	srv := &http.Server{Addr: listenerAddr, Handler: http.DefaultServeMux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warnf("error starting pprof server: %s", err)
		}
	}()
	return srv
}

// LogFrame writes a hex dump of one raw frame to the log at debug level.
func LogFrame(entry *logrus.Entry, dir packets.Direction, frame []byte) {
	if !entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	entry.Debugf("%s frame (%d bytes):\n%s", dir, len(frame), spew.Sdump(frame))
}
