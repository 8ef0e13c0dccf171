// mock-collab stands in for the external collaborators during local
// development: the billing service, the reasoning API, and a webhook sink.
//
// Point the engine at it with:
//
//	OPSMEND_HEAL_BILLING_BASE_URL=http://localhost:9090
//	OPSMEND_HEAL_BILLING_API_KEY=dev-key
//	OPSMEND_HEAL_REASONING_BASE_URL=http://localhost:9090/v1
//	OPSMEND_HEAL_REASONING_API_KEY=dev-key
//	OPSMEND_HEAL_WEBHOOK_URL=http://localhost:9090/hooks/healing
package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

type chargeRequest struct {
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/charge", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req chargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"status":    "charged",
			"user_id":   req.UserID,
			"amount":    req.Amount,
			"currency":  req.Currency,
			"charge_id": time.Now().UnixNano(),
		})
	})

	// OpenAI-compatible chat completion stub returning a fixed action list.
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"id":      "mock-completion",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":    "assistant",
						"content": "restart_queue_worker, scale_workers, notify_ops",
					},
					"finish_reason": "stop",
				},
			},
		})
	})

	mux.HandleFunc("/hooks/healing", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		body, _ := io.ReadAll(r.Body)
		log.Printf("webhook received: %s", body)
		w.WriteHeader(http.StatusOK)
	})

	logger := log.New(log.Writer(), "collab-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
