// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"resenje.org/web"

	"github.com/ethersphere/mirror/pkg/jsonhttp"
	"github.com/ethersphere/mirror/pkg/logging/httpaccess"
)

// newBasicRouter constructs only the routes that do not depend on the
// coordinator:
// - /health
// - pprof
// - metrics
func (s *Service) newBasicRouter() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(jsonhttp.NotFoundHandler)

	router.Path("/metrics").Handler(web.ChainHandlers(
		httpaccess.SetAccessLogLevelHandler(0), // suppress access log messages
		web.FinalHandler(promhttp.InstrumentMetricHandler(
			s.metricsRegistry,
			promhttp.HandlerFor(s.metricsRegistry, promhttp.HandlerOpts{}),
		)),
	))

	router.Handle("/debug/pprof", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := r.URL
		u.Path += "/"
		http.Redirect(w, r, u.String(), http.StatusPermanentRedirect)
	}))
	router.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	router.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	router.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	router.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	router.PathPrefix("/debug/pprof/").Handler(http.HandlerFunc(pprof.Index))

	router.Handle("/health", web.ChainHandlers(
		httpaccess.SetAccessLogLevelHandler(0), // suppress access log messages
		web.FinalHandlerFunc(s.healthHandler),
	))

	return router
}

// newRouter construct the complete set of routes after the coordinator is
// injected and exposes /readiness endpoint to provide information that the
// API is fully active.
func (s *Service) newRouter() *mux.Router {
	router := s.newBasicRouter()

	router.Handle("/readiness", web.ChainHandlers(
		httpaccess.SetAccessLogLevelHandler(0), // suppress access log messages
		web.FinalHandlerFunc(s.readinessHandler),
	))

	router.Handle("/replication", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.replicationHandler),
		"PUT": web.ChainHandlers(
			jsonhttp.NewMaxBodyBytesHandler(maxRequestSize),
			web.FinalHandlerFunc(s.setReplicationHandler),
		),
	})

	router.Handle("/replicators", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.replicatorsHandler),
	})
	router.Handle("/replicators/{name}", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.replicatorHandler),
	})
	router.Handle("/replicators/{name}/trigger", jsonhttp.MethodHandler{
		"POST": http.HandlerFunc(s.triggerHandler),
	})
	router.Handle("/replicators/{name}/stop", jsonhttp.MethodHandler{
		"POST": http.HandlerFunc(s.stopHandler),
	})
	router.Handle("/replicators/{name}/state", jsonhttp.MethodHandler{
		"DELETE": http.HandlerFunc(s.deleteStateHandler),
	})
	router.Handle("/replicators/{name}/watermark", jsonhttp.MethodHandler{
		"PUT": web.ChainHandlers(
			jsonhttp.NewMaxBodyBytesHandler(maxRequestSize),
			web.FinalHandlerFunc(s.setWatermarkHandler),
		),
	})

	return router
}

// setRouter sets the base API handler with common middlewares.
func (s *Service) setRouter(router http.Handler) {
	h := http.NewServeMux()
	h.Handle("/", web.ChainHandlers(
		s.Tracer.HTTPHandler,
		httpaccess.NewHTTPAccessLogHandler(s.Logger, logrus.InfoLevel, "debug api access"),
		handlers.CompressHandler,
		func(h http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if o := r.Header.Get("Origin"); o != "" && (len(s.CORSAllowedOrigins) == 0 || s.checkOrigin(r)) {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Set("Access-Control-Allow-Origin", o)
					w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type, X-Requested-With, Access-Control-Request-Headers, Access-Control-Request-Method")
					w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS, POST, PUT, DELETE")
					w.Header().Set("Access-Control-Max-Age", "3600")
				}
				h.ServeHTTP(w, r)
			})
		},
		web.NoCacheHeadersHandler,
		web.FinalHandler(router),
	))

	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	s.handler = h
}

func (s *Service) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	for _, o := range s.CORSAllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
