// Package dashboard serves the progress of a running conversion over HTTP.
package dashboard

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rtm0/zarrcube/internal/convert"
)

// Snapshotter reports the live state of a run.
type Snapshotter interface {
	Snapshot() convert.Snapshot
}

// Handler returns the dashboard routes: GET /status answers with the
// current snapshot as JSON.
func Handler(s Snapshotter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}

// Server is a running dashboard.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log logrus.FieldLogger
}

// Start listens on addr and serves the dashboard in the background. A
// listen failure is returned right away.
func Start(addr string, s Snapshotter, log logrus.FieldLogger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dashboard listen on %s", addr)
	}
	d := &Server{
		srv: &http.Server{Handler: Handler(s), ReadHeaderTimeout: 10 * time.Second},
		ln:  ln,
		log: log,
	}
	go func() {
		if err := d.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("dashboard stopped")
		}
	}()
	return d, nil
}

// URL returns the address of the status endpoint.
func (d *Server) URL() string {
	return "http://" + d.ln.Addr().String() + "/status"
}

// Shutdown stops the server, waiting for open requests until ctx ends.
func (d *Server) Shutdown(ctx context.Context) error {
	return d.srv.Shutdown(ctx)
}
