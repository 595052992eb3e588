/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	contentType     = "Content-Type"
	applicationJSON = "application/json"
)

// Server serves counters, clock engine snapshot and peer list via http
type Server struct {
	stats    *Stats
	sys      SysStats
	registry *prometheus.Registry
	router   *mux.Router
	snapshot func() any
	peers    func() any
}

// NewServer returns Server exposing stats. snapshot and peers may be nil.
func NewServer(stats *Stats, snapshot, peers func() any) *Server {
	s := &Server{
		stats:    stats,
		registry: prometheus.NewRegistry(),
		router:   mux.NewRouter(),
		snapshot: snapshot,
		peers:    peers,
	}
	s.router.HandleFunc("/", s.handleCountersRequest).Methods(http.MethodGet)
	s.router.HandleFunc("/counters", s.handleCountersRequest).Methods(http.MethodGet)
	s.router.HandleFunc("/snapshot", s.handleSnapshotRequest).Methods(http.MethodGet)
	s.router.HandleFunc("/peers", s.handlePeersRequest).Methods(http.MethodGet)
	promHandler := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	s.router.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.scrapeMetrics()
		promHandler.ServeHTTP(w, r)
	})).Methods(http.MethodGet)
	return s
}

// Handler returns http handler with all routes
func (s *Server) Handler() http.Handler {
	return s.router
}

// CollectSysStats puts process stats into counters
func (s *Server) CollectSysStats(interval time.Duration) error {
	sys, err := s.sys.CollectRuntimeStats(interval)
	if err != nil {
		return err
	}
	for k, v := range sys {
		s.stats.SetCounter(k, v)
	}
	return nil
}

// Start runs http server on addr until ctx is done, collecting process stats every interval
func (s *Server) Start(ctx context.Context, addr string, interval time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Warningf("stats server shutdown: %v", err)
				}
				return
			case <-t.C:
				if err := s.CollectSysStats(interval); err != nil {
					log.Warningf("failed to get system metrics %s", err)
				}
			}
		}
	}()
	log.Infof("Starting http json server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) scrapeMetrics() {
	for mkey, mval := range s.stats.GetCounters() {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: flattenKey(mkey),
			Help: mkey,
		})
		if err := s.registry.Register(g); err != nil {
			are := &prometheus.AlreadyRegisteredError{}
			if errors.As(err, are) {
				g = are.ExistingCollector.(prometheus.Gauge)
			} else {
				log.Errorf("failed to register metric %s %v", mkey, err)
				continue
			}
		}
		g.Set(float64(mval))
	}
}

func flattenKey(key string) string {
	return strings.NewReplacer(" ", "_", ".", "_", "-", "_", "=", "_", "/", "_").Replace(key)
}

func writeJSON(w http.ResponseWriter, v any) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set(contentType, applicationJSON)
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

func (s *Server) handleCountersRequest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.stats.GetCounters())
}

func (s *Server) handleSnapshotRequest(w http.ResponseWriter, r *http.Request) {
	if s.snapshot == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.snapshot())
}

func (s *Server) handlePeersRequest(w http.ResponseWriter, r *http.Request) {
	if s.peers == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.peers())
}
