package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.body.Write(b)
	return lrw.ResponseWriter.Write(b)
}

var (
	mu          sync.Mutex
	chargedIDs  = make(map[string]bool)
	duplicateID = make(map[string]bool)
)

// loggingMiddleware logs every exchange and flags externalTrxIds charged more
// than once, which would mean a retried debit.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)

		var requestBody bytes.Buffer
		tee := io.TeeReader(r.Body, &requestBody)
		body, err := io.ReadAll(tee)
		if err != nil {
			log.Printf("Error reading request body: %v", err)
		}
		r.Body = io.NopCloser(&requestBody)
		log.Printf("Request Body: %s", body)

		var charge ChargeRequest
		if err := json.Unmarshal(body, &charge); err == nil && charge.ExternalTrxID != "" {
			mu.Lock()
			if chargedIDs[charge.ExternalTrxID] {
				duplicateID[charge.ExternalTrxID] = true
			} else {
				chargedIDs[charge.ExternalTrxID] = true
			}
			mu.Unlock()
		}

		lrw := &loggingResponseWriter{ResponseWriter: w, body: &bytes.Buffer{}}
		next.ServeHTTP(lrw, r)

		log.Printf("Response Body: %s", lrw.body.String())

		mu.Lock()
		for id := range duplicateID {
			log.Printf("Duplicate charge: %s", id)
		}
		mu.Unlock()
	})
}

var endpointCounts = make(map[string]int)

func countMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		endpointCounts[r.URL.Path]++
		count := endpointCounts[r.URL.Path]
		mu.Unlock()

		log.Printf("Endpoint %s has been called %d times", r.URL.Path, count)
		next.ServeHTTP(w, r)
	})
}
