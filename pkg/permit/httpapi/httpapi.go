// Package httpapi exposes the bearer-JWT-authenticated approve/deny
// surface for consent tickets (SPEC_FULL.md §4.10), grounded on the
// teacher's pkg/auth/middleware.go (JWT validation shape) and
// pkg/api/approve_handler.go (pending-queue handler shape), adapted from
// a single Ed25519 approval receipt to JWT-bearer role claims against a
// K-of-N ticket.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/permit"
)

// Claims are the JWT claims the permit surface expects: a role claim
// checked against a ticket's required_roles, per §4.10.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// KeyFunc resolves the verification key for a token, typically a
// closure over a JWKS or static secret, as the teacher's identity.KeySet
// does for HelmClaims.
type KeyFunc func(*jwt.Token) (interface{}, error)

// Handler serves the ticket approve/deny endpoints.
type Handler struct {
	mgr     *permit.Manager
	keyFunc KeyFunc
}

// NewHandler builds a Handler authenticating requests with keyFunc.
func NewHandler(mgr *permit.Manager, keyFunc KeyFunc) *Handler {
	return &Handler{mgr: mgr, keyFunc: keyFunc}
}

// Register wires the handler's routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /tickets/{id}/approve", h.handleApprove)
	mux.HandleFunc("POST /tickets/{id}/deny", h.handleDeny)
}

func (h *Handler) authenticate(r *http.Request) (*Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errors.New("missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errors.New("invalid Authorization header format")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, jwt.Keyfunc(h.keyFunc))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Role == "" {
		return nil, errors.New("token role claim is required")
	}
	return claims, nil
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	ticketID := r.PathValue("id")
	t, err := h.mgr.Approve(ticketID, claims.Role)
	if err != nil {
		writeTicketError(w, err)
		return
	}
	writeTicket(w, t)
}

func (h *Handler) handleDeny(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	ticketID := r.PathValue("id")
	t, err := h.mgr.Deny(ticketID, claims.Role)
	if err != nil {
		writeTicketError(w, err)
		return
	}
	writeTicket(w, t)
}

func writeTicket(w http.ResponseWriter, t *permit.Ticket) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ticket_id": t.TicketID,
		"status":    t.Status.String(),
		"approvals": t.Approvals,
		"k":         t.K,
		"n":         t.N,
	})
}

func writeTicketError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var e *errs.E
	if errors.As(err, &e) {
		status = e.Status
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"detail": detail,
	})
}
