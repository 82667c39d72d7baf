package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/gradeseal/keys"
	"github.com/collapsinghierarchy/gradeseal/model"
	"github.com/collapsinghierarchy/gradeseal/sealer"
	"github.com/collapsinghierarchy/gradeseal/service"
	"github.com/collapsinghierarchy/gradeseal/store"
	"github.com/collapsinghierarchy/gradeseal/workflow"
)

// PrincipalHeader carries the authenticated caller id, set by the identity
// layer in front of this service. Binary fields travel base64 (std encoding)
// in JSON bodies.
const PrincipalHeader = "X-GS-Principal"

type Server struct {
	svc *service.Service
}

// New returns a ready Server instance.
func New(svc *service.Service) *Server { return &Server{svc: svc} }

// -------- request/response shapes -----------------------------------------

type registerPrincipalRequest struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role"`
}

type generateKeyRequest struct {
	Purpose string `json:"purpose"`
}

type registerKeyRequest struct {
	Purpose string `json:"purpose"`
	Public  string `json:"public"` // base64
}

type submitRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"` // base64
	Reviewer string `json:"reviewer"`
}

type unsealRequest struct {
	Submission string `json:"submission"`
	Private    string `json:"private"` // base64, never persisted
}

type evaluateRequest struct {
	Submission string `json:"submission"`
	Grade      string `json:"grade"`
	Feedback   string `json:"feedback"`
	Private    string `json:"private"` // base64, never persisted
}

type publishRequest struct {
	Submission string `json:"submission"`
}

// -------- helpers ----------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	var te *workflow.TransitionError
	var ie *sealer.IntegrityError
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, keys.ErrKeyNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, service.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, service.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrContentTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, service.ErrSigningKeyUnavailable),
		errors.Is(err, service.ErrSignatureInvalid),
		errors.Is(err, store.ErrConflict),
		errors.As(err, &te):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &ie):
		http.Error(w, "content integrity violation", http.StatusConflict)
	case errors.Is(err, sealer.ErrUnwrap), errors.Is(err, sealer.ErrDecrypt):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// principal resolves the caller from the identity header.
func (s *Server) principal(r *http.Request) (model.Principal, error) {
	h := r.Header.Get(PrincipalHeader)
	if h == "" {
		return model.Principal{}, errors.New("missing principal header")
	}
	id, err := uuid.Parse(h)
	if err != nil {
		return model.Principal{}, errors.New("invalid principal header")
	}
	p, err := s.svc.Principal(r.Context(), id)
	if err != nil {
		return model.Principal{}, errors.New("unknown principal")
	}
	return *p, nil
}

func (s *Server) authed(w http.ResponseWriter, r *http.Request, method string) (model.Principal, bool) {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return model.Principal{}, false
	}
	p, err := s.principal(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return model.Principal{}, false
	}
	return p, true
}

func decodeB64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// -------- handlers ---------------------------------------------------------

func (s *Server) RegisterPrincipal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registerPrincipalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := uuid.Nil
	if req.ID != "" {
		var err error
		if id, err = uuid.Parse(req.ID); err != nil {
			http.Error(w, "invalid principal id", http.StatusBadRequest)
			return
		}
	}
	created, err := s.svc.RegisterPrincipal(r.Context(), id, model.Role(req.Role))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": created.String()})
}

func (s *Server) GenerateKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(w, r, http.MethodPost); !ok {
		return
	}
	var req generateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pub, priv, err := s.svc.GenerateKeyPair(keys.Purpose(req.Purpose))
	if err != nil {
		writeErr(w, err)
		return
	}
	// The private half appears exactly once, in this response.
	writeJSON(w, http.StatusOK, map[string]string{
		"public":  base64.StdEncoding.EncodeToString(pub),
		"private": base64.StdEncoding.EncodeToString(priv),
	})
}

func (s *Server) RegisterKey(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authed(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req registerKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pub, err := decodeB64(req.Public)
	if err != nil {
		http.Error(w, "invalid public key encoding", http.StatusBadRequest)
		return
	}
	if err := s.svc.RegisterPublicKey(r.Context(), p, keys.Purpose(req.Purpose), pub); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) LookupKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(w, r, http.MethodGet); !ok {
		return
	}
	id, err := uuid.Parse(r.URL.Query().Get("principal"))
	if err != nil {
		http.Error(w, "invalid principal id", http.StatusBadRequest)
		return
	}
	pub, err := s.svc.LookupPublicKey(r.Context(), id, keys.Purpose(r.URL.Query().Get("purpose")))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"public": base64.StdEncoding.EncodeToString(pub),
	})
}

func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authed(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reviewerID, err := uuid.Parse(req.Reviewer)
	if err != nil {
		http.Error(w, "invalid reviewer id", http.StatusBadRequest)
		return
	}
	raw, err := decodeB64(req.Content)
	if err != nil {
		http.Error(w, "invalid content encoding", http.StatusBadRequest)
		return
	}
	id, err := s.svc.Submit(r.Context(), p, req.Title, raw, reviewerID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (s *Server) Unseal(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authed(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req unsealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	subID, err := uuid.Parse(req.Submission)
	if err != nil {
		http.Error(w, "invalid submission id", http.StatusBadRequest)
		return
	}
	priv, err := decodeB64(req.Private)
	if err != nil {
		http.Error(w, "invalid private key encoding", http.StatusBadRequest)
		return
	}
	raw, err := s.svc.Unseal(r.Context(), p, subID, priv)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"content": base64.StdEncoding.EncodeToString(raw),
	})
}

func (s *Server) Evaluate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authed(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	subID, err := uuid.Parse(req.Submission)
	if err != nil {
		http.Error(w, "invalid submission id", http.StatusBadRequest)
		return
	}
	priv, err := decodeB64(req.Private)
	if err != nil {
		http.Error(w, "invalid private key encoding", http.StatusBadRequest)
		return
	}
	id, err := s.svc.Evaluate(r.Context(), p, subID, req.Grade, req.Feedback, priv)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (s *Server) Publish(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authed(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	subID, err := uuid.Parse(req.Submission)
	if err != nil {
		http.Error(w, "invalid submission id", http.StatusBadRequest)
		return
	}
	if err := s.svc.VerifyAndPublish(r.Context(), p, subID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.StatusPublished)})
}

func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authed(w, r, http.MethodDelete)
	if !ok {
		return
	}
	subID, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		http.Error(w, "invalid submission id", http.StatusBadRequest)
		return
	}
	if err := s.svc.Delete(r.Context(), p, subID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Decisions streams the audit trail as NDJSON, one decision per line.
func (s *Server) Decisions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authed(w, r, http.MethodGet)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	err := s.svc.Decisions(r.Context(), p, func(d *model.AccessDecision) error {
		return enc.Encode(d)
	})
	if err != nil {
		writeErr(w, err)
	}
}
