// Command test-server is a local target for the bundled sample script. It
// serves the crocodile API under /public/crocodiles/ and echoes query
// arguments on /get, so that
//
//	TARGET_URL=http://localhost:8080 loadrun run configs/sample.yaml
//
// runs without touching the network.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type crocodile struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Sex         string `json:"sex"`
	DateOfBirth string `json:"date_of_birth"`
}

var crocodiles = []crocodile{
	{1, "Bert", "M", "2010-06-27"},
	{2, "Ed", "M", "1995-02-27"},
	{3, "Lyle the Crocodile", "M", "1985-03-03"},
	{4, "Solomon", "M", "1993-12-25"},
	{5, "Sang Buaya", "F", "2006-01-28"},
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	latency := flag.Duration("latency", 0, "delay added to every response")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if *latency > 0 {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				time.Sleep(*latency)
				next.ServeHTTP(w, req)
			})
		})
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Get("/get", func(w http.ResponseWriter, req *http.Request) {
		args := make(map[string]string)
		for k := range req.URL.Query() {
			args[k] = req.URL.Query().Get(k)
		}
		respondJSON(w, http.StatusOK, map[string]any{"args": args, "url": req.URL.String()})
	})
	r.Get("/public/crocodiles/", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, crocodiles)
	})
	r.Get("/public/crocodiles/{id}/", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(req, "id"))
		if err != nil || id < 1 || id > len(crocodiles) {
			respondJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}
		respondJSON(w, http.StatusOK, crocodiles[id-1])
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	logger.Info("test server listening", zap.String("addr", *addr), zap.Int("cpus", runtime.NumCPU()))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("test server failed", zap.Error(err))
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
