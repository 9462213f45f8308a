/*
 *
 * tabpilot - a remote browser automation control plane
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package relay

import (
	"bufio"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// checkOrigin accepts extensions and clients sending no origin.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" ||
		strings.HasPrefix(origin, "chrome-extension://") ||
		strings.HasPrefix(origin, "moz-extension://")
}

// Handler returns the HTTP routes of the relay. Metrics gathered by g are
// served at /metrics when g isn't nil.
func (r *Relay) Handler(g prometheus.Gatherer) http.Handler {
	router := httprouter.New()
	router.GET("/ws", r.handleWS)
	router.GET("/targets", r.handleTargets)
	router.GET("/ping", handlePing(r.logger))
	router.GET("/script/:world", r.handleScript)
	if g != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	return withLoggingHandler(r.logger, router)
}

// NewServer returns a server for the routes of the relay.
func (r *Relay) NewServer(addr string, g prometheus.Gatherer) *http.Server {
	return &http.Server{Addr: addr, Handler: r.Handler(g), ReadHeaderTimeout: 10 * time.Second}
}

func (r *Relay) authorized(req *http.Request) bool {
	if r.opts.Token == "" {
		return true
	}
	token := req.URL.Query().Get("token")
	return subtle.ConstantTimeCompare([]byte(token), []byte(r.opts.Token)) == 1
}

func (r *Relay) handleWS(rw http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	if !r.authorized(req) {
		http.Error(rw, "invalid token", http.StatusUnauthorized)
		return
	}
	ws, err := r.upgrader.Upgrade(rw, req, nil)
	if err != nil {
		// The upgrader already replied.
		r.logger.Debugf("Relay:handleWS", "upgrading: %v", err)
		return
	}

	c := newConn(uuid.NewString(), ws, r.logger)
	r.attach(c)
	go c.sendLoop()
	go r.syncTargets(c)

	c.recvLoop(r.onEvent)
	r.detach(c)
}

type targetsResponse struct {
	Connected bool    `json:"connected"`
	Targets   []int64 `json:"targets"`
}

func (r *Relay) handleTargets(rw http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	ids := r.Targets()
	resp := targetsResponse{Connected: r.Connected(), Targets: make([]int64, len(ids))}
	for i, id := range ids {
		resp.Targets[i] = int64(id)
	}

	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		r.logger.Errorf("Relay:handleTargets", "encoding response: %v", err)
	}
}

// handleScript serves the page script the extension installs in a world.
func (r *Relay) handleScript(rw http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	w := host.World(p.ByName("world"))
	if !w.Valid() {
		http.Error(rw, fmt.Sprintf("unknown world %q", w), http.StatusNotFound)
		return
	}
	rw.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	if _, err := io.WriteString(rw, host.PageScript(w)); err != nil {
		r.logger.Errorf("Relay:handleScript", "writing response: %v", err)
	}
}

func handlePing(logger *log.Logger) httprouter.Handle {
	return func(rw http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		rw.Header().Add("Content-Type", "text/plain; charset=utf-8")
		if _, err := fmt.Fprint(rw, "ok"); err != nil {
			logger.Errorf("relay:ping", "writing response: %v", err)
		}
	}
}

type wrappedResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrappedResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades take over the connection.
func (w *wrappedResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer doesn't support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *wrappedResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// withLoggingHandler returns the middleware which logs response status for request.
func withLoggingHandler(l *log.Logger, next http.Handler) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		wrapped := &wrappedResponseWriter{ResponseWriter: rw, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		l.Debugf("relay:http", "%s %s status:%d", r.Method, r.URL.Path, wrapped.status)
	}
}
