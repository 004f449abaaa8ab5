package main

import (
	"bytes"
	"encoding/json"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

type ChargeRequest struct {
	ExternalTrxID string `json:"externalTrxId"`
	SubscriberID  string `json:"subscriberId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type ChargeResponse struct {
	StatusCode    string `json:"statusCode"`
	StatusDetail  string `json:"statusDetail"`
	InternalTrxID string `json:"internalTrxId"`
	ExternalTrxID string `json:"externalTrxId"`
	TimeStamp     string `json:"timeStamp"`
}

type Notification struct {
	ExternalTrxID string `json:"externalTrxId"`
	InternalTrxID string `json:"internalTrxId"`
	StatusCode    string `json:"statusCode"`
	StatusDetail  string `json:"statusDetail"`
	TimeStamp     string `json:"timeStamp"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	SubscriberID  string `json:"subscriberId"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	errorRate   = 0.5
	contentType = "application/json"

	successCode = "S1000"
	failureCode = "E1325"
	pendingCode = "P1003"
)

var webhookURL = envOr("WEBHOOK_URL", "http://localhost:8080/webhooks/payment")

func main() {
	http.HandleFunc("POST /always-success", alwaysSuccessHandler)
	http.HandleFunc("POST /success-delayed", successDelayedHandler)
	http.HandleFunc("POST /always-fail", alwaysFailHandler)
	http.HandleFunc("POST /pending-then-success", pendingThenSuccessHandler)
	http.HandleFunc("POST /success-then-fail", successThenFailHandler)
	http.HandleFunc("POST /random-fail", randomFailHandler)
	http.HandleFunc("POST /unavailable", unavailableHandler)
	http.HandleFunc("POST /sms/fanout", smsHandler)

	log.Fatal(http.ListenAndServe(":8085", loggingMiddleware(countMiddleware(http.DefaultServeMux))))
}

// alwaysSuccessHandler answers S1000 and confirms it by webhook.
func alwaysSuccessHandler(w http.ResponseWriter, r *http.Request) {
	charge(w, r, successCode, successCode, time.Second)
}

func successDelayedHandler(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(3+rand.IntN(6)) * time.Second)
	charge(w, r, successCode, successCode, time.Second)
}

func alwaysFailHandler(w http.ResponseWriter, r *http.Request) {
	charge(w, r, failureCode, failureCode, time.Second)
}

func pendingThenSuccessHandler(w http.ResponseWriter, r *http.Request) {
	charge(w, r, pendingCode, successCode, 5*time.Second)
}

// successThenFailHandler reports success synchronously and overturns it by
// webhook.
func successThenFailHandler(w http.ResponseWriter, r *http.Request) {
	charge(w, r, successCode, failureCode, 5*time.Second)
}

func randomFailHandler(w http.ResponseWriter, r *http.Request) {
	if rand.Float64() < errorRate {
		unavailableHandler(w, r)
		return
	}
	charge(w, r, successCode, successCode, time.Second)
}

// unavailableHandler fails the call, but the charge still goes through and is
// confirmed later.
func unavailableHandler(w http.ResponseWriter, r *http.Request) {
	var req ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.ExternalTrxID != "" {
		go sendWebhook(req, uuid.NewString(), successCode, 10*time.Second)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(ErrorResponse{Error: "Service Unavailable"})
}

func smsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

func charge(w http.ResponseWriter, r *http.Request, syncCode, webhookCode string, webhookDelay time.Duration) {
	var req ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalTrxID == "" {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "Bad Request"})
		return
	}

	internalTrxID := uuid.NewString()
	go sendWebhook(req, internalTrxID, webhookCode, webhookDelay)

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ChargeResponse{
		StatusCode:    syncCode,
		StatusDetail:  detail(syncCode),
		InternalTrxID: internalTrxID,
		ExternalTrxID: req.ExternalTrxID,
		TimeStamp:     time.Now().Format("20060102150405"),
	})
}

func sendWebhook(req ChargeRequest, internalTrxID, code string, delay time.Duration) {
	time.Sleep(delay)

	body, _ := json.Marshal(Notification{
		ExternalTrxID: req.ExternalTrxID,
		InternalTrxID: internalTrxID,
		StatusCode:    code,
		StatusDetail:  detail(code),
		TimeStamp:     time.Now().Format("20060102150405"),
		Amount:        req.Amount,
		Currency:      req.Currency,
		SubscriberID:  req.SubscriberID,
	})

	resp, err := http.Post(webhookURL, contentType, bytes.NewReader(body))
	if err != nil {
		log.Printf("Error sending webhook for %s: %v", req.ExternalTrxID, err)
		return
	}
	defer resp.Body.Close()
	log.Printf("Webhook for %s (%s) answered %s", req.ExternalTrxID, code, resp.Status)
}

func detail(code string) string {
	switch code {
	case successCode:
		return "Success"
	case pendingCode:
		return "Request is being processed"
	default:
		return "Insufficient balance"
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
