// Command webhook-receiver is a local stand-in for the delivery endpoint.
// It verifies signatures, drops duplicate idempotency keys and can be told
// to fail the first N requests to exercise publisher retries.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/logging"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/publisher"
)

type request struct {
	Timestamp      string            `json:"timestamp"`
	IdempotencyKey string            `json:"idempotency_key"`
	Channel        string            `json:"channel"`
	Duplicate      bool              `json:"duplicate"`
	Payload        publisher.Payload `json:"payload"`
}

type stats struct {
	Count        int64     `json:"count"`
	Delivered    int       `json:"delivered"`
	Duplicates   int64     `json:"duplicates"`
	Rejected     int64     `json:"rejected"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

const maxStored = 50

type receiver struct {
	secret    string
	failFirst int64

	mu           sync.Mutex
	count        int64
	duplicates   int64
	rejected     int64
	seen         map[string]bool
	lastRequests []request
	since        time.Time
}

func newReceiver(secret string, failFirst int64) *receiver {
	return &receiver{
		secret:    secret,
		failFirst: failFirst,
		seen:      make(map[string]bool),
		since:     time.Now().UTC(),
	}
}

func (rc *receiver) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/hook", rc.hook).Methods(http.MethodPost)
	r.HandleFunc("/stats", rc.stats).Methods(http.MethodGet)
	r.HandleFunc("/reset", rc.reset).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	return r
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if rc.secret != "" && !publisher.VerifySignature(rc.secret, body, r.Header.Get(publisher.HeaderSignature)) {
		rc.mu.Lock()
		rc.rejected++
		rc.mu.Unlock()
		log.Warn().Str("suggestion_id", r.Header.Get(publisher.HeaderSuggestionID)).Msg("receiver: bad signature")
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	var p publisher.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	key := r.Header.Get(publisher.HeaderIdempotencyKey)
	rc.mu.Lock()
	rc.count++
	current := rc.count
	if current <= rc.failFirst {
		rc.mu.Unlock()
		log.Info().Int64("n", current).Msg("receiver: injected failure")
		http.Error(w, "injected failure", http.StatusServiceUnavailable)
		return
	}
	dup := rc.seen[key]
	if dup {
		rc.duplicates++
	}
	rc.seen[key] = true
	rc.lastRequests = append(rc.lastRequests, request{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		IdempotencyKey: key,
		Channel:        r.Header.Get(publisher.HeaderChannel),
		Duplicate:      dup,
		Payload:        p,
	})
	if len(rc.lastRequests) > maxStored {
		rc.lastRequests = rc.lastRequests[len(rc.lastRequests)-maxStored:]
	}
	rc.mu.Unlock()

	log.Info().
		Int64("n", current).
		Str("key", key).
		Bool("duplicate", dup).
		Str("vertical", p.Vertical).
		Str("title", p.Title).
		Msg("receiver: hook received")

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"received":%d,"duplicate":%t}`, current, dup)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:        rc.count,
		Delivered:    len(rc.seen),
		Duplicates:   rc.duplicates,
		Rejected:     rc.rejected,
		LastRequests: append([]request(nil), rc.lastRequests...),
		Since:        rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (rc *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	rc.count, rc.duplicates, rc.rejected = 0, 0, 0
	rc.seen = make(map[string]bool)
	rc.lastRequests = nil
	rc.since = time.Now().UTC()
	rc.mu.Unlock()
	fmt.Fprintln(w, "reset")
}

func main() {
	logging.Setup(os.Getenv("LOG_LEVEL"), "console")

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	var failFirst int64
	if v := os.Getenv("FAIL_FIRST"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Fatal().Err(err).Msg("receiver: FAIL_FIRST must be an integer")
		}
		failFirst = n
	}

	rc := newReceiver(os.Getenv("SANDESH_WEBHOOK_SECRET"), failFirst)
	log.Info().Str("addr", addr).Int64("fail_first", failFirst).Bool("verify", rc.secret != "").Msg("receiver: listening")
	if err := http.ListenAndServe(addr, rc.routes()); err != nil {
		log.Fatal().Err(err).Msg("receiver: server error")
	}
}
