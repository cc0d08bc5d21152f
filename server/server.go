// server/server.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package server exposes the coordinator to browser dashboards: a JSON
// REST surface, a websocket stream of state updates and inbound commands,
// and a status page for operators.
package server

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/kfowler/airband/coordinator"
	"github.com/kfowler/airband/log"

	"github.com/klauspost/compress/gzhttp"
)

type Server struct {
	addr  string
	coord *coordinator.Coordinator
	hub   *hub
	lg    *log.Logger

	startTime time.Time
	http      *http.Server
}

func New(addr string, coord *coordinator.Coordinator, lg *log.Logger) *Server {
	s := &Server{
		addr:      addr,
		coord:     coord,
		hub:       newHub(coord, lg),
		lg:        lg,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	mux.Handle("/api/state", gzhttp.GzipHandler(http.HandlerFunc(s.stateHandler)))
	mux.Handle("/api/transmissions", gzhttp.GzipHandler(http.HandlerFunc(s.transmissionsHandler)))
	mux.HandleFunc("/ws", s.hub.serveWS)

	mux.HandleFunc("/sup", func(w http.ResponseWriter, r *http.Request) {
		s.statsHandler(w, r)
		s.lg.Infof("%s: served stats request", r.URL.String())
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run serves until ctx is cancelled, then drains connected clients and
// shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	errch := make(chan error, 1)
	go func() {
		s.lg.Infof("http server listening on %s", s.addr)
		errch <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
	}

	s.hub.shutdown()

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(sctx)
}
