package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/imjasonh/vapid"
	"github.com/imjasonh/vapid/keys"
	"github.com/imjasonh/vapid/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type server struct {
	signer  *vapid.Signer
	store   storage.Storage
	subject string

	registry *prometheus.Registry
	issued   *prometheus.CounterVec
	verified *prometheus.CounterVec
	pruned   prometheus.Counter
}

func newServer(key keys.Signer, store storage.Storage, subject string, variant vapid.Variant) (*server, error) {
	signer, err := vapid.New(key, vapid.WithVariant(variant), vapid.WithLedger(store))
	if err != nil {
		return nil, err
	}

	s := &server{
		signer:   signer,
		store:    store,
		subject:  subject,
		registry: prometheus.NewRegistry(),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vapid_tokens_issued_total",
			Help: "VAPID tokens issued, by outcome.",
		}, []string{"outcome"}),
		verified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vapid_tokens_verified_total",
			Help: "VAPID token verifications, by outcome.",
		}, []string{"outcome"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vapid_ledger_pruned_total",
			Help: "Expired ledger records deleted.",
		}),
	}
	s.registry.MustRegister(s.issued, s.verified, s.pruned)
	return s, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vapid-public-key", s.handlePublicKey)
	mux.HandleFunc("POST /api/token", s.handleToken)
	mux.HandleFunc("POST /api/verify", s.handleVerify)
	mux.HandleFunc("GET /api/tokens", s.handleListTokens)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// pruneLoop deletes expired ledger records every interval until ctx is done.
func (s *server) pruneLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx, time.Now())
		}
	}
}

func (s *server) prune(ctx context.Context, at time.Time) {
	n, err := s.store.DeleteExpired(ctx, at)
	if err != nil {
		clog.FromContext(ctx).Warnf("pruning ledger: %v", err)
		return
	}
	if n > 0 {
		s.pruned.Add(float64(n))
		clog.FromContext(ctx).With("count", n).Info("pruned expired tokens")
	}
}

// HTTP Handlers

func (s *server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"publicKey": s.signer.PublicKey(),
		"variant":   s.signer.Variant().Name(),
	})
}

type tokenRequest struct {
	Audience  string         `json:"aud"`
	Subject   string         `json:"sub,omitempty"`
	CryptoKey string         `json:"cryptoKey,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req tokenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	claims := vapid.Claims{}
	for k, v := range req.Claims {
		claims[k] = v
	}
	claims["aud"] = req.Audience
	claims["sub"] = s.subject
	if req.Subject != "" {
		claims["sub"] = req.Subject
	}
	if exp, ok := claims.Expiration(); ok {
		claims["exp"] = exp.Unix()
	}

	headers, err := s.signer.Sign(ctx, claims, req.CryptoKey)
	var cve *vapid.ClaimValidationError
	switch {
	case errors.As(err, &cve):
		s.issued.WithLabelValues("rejected").Inc()
		http.Error(w, cve.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.issued.WithLabelValues("error").Inc()
		clog.FromContext(ctx).Errorf("signing token: %v", err)
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}

	s.issued.WithLabelValues("ok").Inc()
	clog.FromContext(ctx).With("aud", req.Audience).Debug("issued token")
	writeJSON(w, r, http.StatusOK, map[string]any{"headers": headers})
}

type verifyRequest struct {
	Token     string `json:"token"`
	PublicKey string `json:"publicKey,omitempty"`
}

func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pub := req.PublicKey
	if pub == "" {
		pub = s.signer.PublicKey()
	}

	claims, err := vapid.Decode(req.Token, pub)
	switch {
	case errors.Is(err, vapid.ErrInvalidSignature):
		s.verified.WithLabelValues("invalid").Inc()
		writeJSON(w, r, http.StatusUnauthorized, map[string]any{"valid": false, "error": err.Error()})
		return
	case err != nil:
		s.verified.WithLabelValues("malformed").Inc()
		writeJSON(w, r, http.StatusBadRequest, map[string]any{"valid": false, "error": err.Error()})
		return
	}

	s.verified.WithLabelValues("ok").Inc()
	writeJSON(w, r, http.StatusOK, map[string]any{"valid": true, "claims": claims})
}

func (s *server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListByKey(r.Context(), s.signer.PublicKey())
	if err != nil {
		http.Error(w, "Failed to list tokens: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*storage.Record{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"tokens": records})
}

// maxBodyBytes bounds request bodies; token and verify requests are small.
const maxBodyBytes = 64 << 10

// decodeBody reads a JSON request body into v, writing the error response
// and returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		clog.FromContext(r.Context()).Warnf("writing response: %v", err)
	}
}
