package nodeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/plexsphere/appguard/internal/decision"
	"github.com/plexsphere/appguard/internal/manager"
	"github.com/plexsphere/appguard/internal/metrics"
	"github.com/plexsphere/appguard/internal/rules"
	"github.com/plexsphere/appguard/internal/store"
	"github.com/plexsphere/appguard/internal/whitelist"
)

// RuleEngine is the view of the running rule engine used by the API. It is
// satisfied by *manager.Manager.
type RuleEngine interface {
	Current() *manager.Generation
	Table() *decision.Table
	AllowsHost(uid rules.UID, host string) bool
	AllowsIP(uid rules.UID, ip netip.Addr) bool
	Filtering() bool
	Mutate(ctx context.Context, fn func(ctx context.Context) error) error
}

// RuleStore is the persistent rule table. It is satisfied by *store.Store.
type RuleStore interface {
	ListRules(ctx context.Context) ([]store.Rule, error)
	AddRule(ctx context.Context, text string, enacted bool) (int64, error)
	SetEnacted(ctx context.Context, id int64, enacted bool) error
	ReplaceEnacted(ctx context.Context, texts []string) error
	DeleteRule(ctx context.Context, id int64) error
}

// Reloader requests a rule reload. It is satisfied by *events.Hub.
type Reloader interface {
	RequestReload(source string)
}

// ToggleState reports the periodic toggle. It is satisfied by
// *toggle.Scheduler.
type ToggleState interface {
	Enabled() bool
	NextToggle() time.Time
}

// Deps are the collaborators of a Handler. Engine is required; the rest
// are optional and their routes answer 503 when missing.
type Deps struct {
	Engine      RuleEngine
	Store       RuleStore
	Reloader    Reloader
	Resolver    rules.Resolver
	Toggle      ToggleState
	Preferences *decision.Preferences
	Metrics     *metrics.Registry
}

// Handler provides HTTP handlers for the local API.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	return &Handler{
		deps:   deps,
		logger: logger.With("component", "nodeapi"),
	}
}

// Mux returns a configured ServeMux with all local API routes.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/rules", h.handleGetRules)
	mux.HandleFunc("GET /v1/rules/stored", h.handleListStored)
	mux.HandleFunc("POST /v1/rules", h.handleAddRule)
	mux.HandleFunc("PUT /v1/rules", h.handleReplaceRules)
	mux.HandleFunc("PUT /v1/rules/{id}/enacted", h.handleSetEnacted)
	mux.HandleFunc("DELETE /v1/rules/{id}", h.handleDeleteRule)
	mux.HandleFunc("POST /v1/rules/reload", h.handleReload)
	mux.HandleFunc("GET /v1/apps/{name}/{context}", h.handleAppQuery)
	mux.HandleFunc("GET /v1/match", h.handleMatch)
	if h.deps.Metrics != nil {
		mux.Handle("GET /metrics", h.deps.Metrics.Handler())
	}
	return mux
}

// ToggleStatus is the toggle part of StatusResponse.
type ToggleStatus struct {
	Enabled    bool       `json:"enabled"`
	NextToggle *time.Time `json:"next_toggle,omitempty"`
}

// WhitelistStatus counts the entries of the active whitelist.
type WhitelistStatus struct {
	Global  int `json:"global"`
	App     int `json:"app"`
	Invalid int `json:"invalid"`
}

// StatusResponse is the response for GET /v1/status.
type StatusResponse struct {
	Generation   string            `json:"generation"`
	LoadedAt     *time.Time        `json:"loaded_at,omitempty"`
	Stats        rules.LoadStats   `json:"stats"`
	Filtering    bool              `json:"filtering"`
	Toggle       *ToggleStatus     `json:"toggle,omitempty"`
	Whitelist    WhitelistStatus   `json:"whitelist"`
	AppOverrides int               `json:"app_overrides"`
	Preferences  *decision.Summary `json:"preferences,omitempty"`
}

// RulesResponse is the response for GET /v1/rules.
type RulesResponse struct {
	Generation string            `json:"generation"`
	Entries    []whitelist.Entry `json:"entries"`
	Apps       map[string]bool   `json:"apps"`
}

// AppResponse is the response for GET /v1/apps/{name}/{context}.
type AppResponse struct {
	Package string `json:"package"`
	Context string `json:"context"`
	Enabled bool   `json:"enabled"`
}

// MatchResponse is the response for GET /v1/match.
type MatchResponse struct {
	UID       rules.UID `json:"uid"`
	Host      string    `json:"host,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Matched   bool      `json:"matched"`
	Filtering bool      `json:"filtering"`
	Allowed   bool      `json:"allowed"`
}

// AddRuleRequest is the body of POST /v1/rules.
type AddRuleRequest struct {
	Text    string `json:"text"`
	Enacted *bool  `json:"enacted,omitempty"`
}

// SetEnactedRequest is the body of PUT /v1/rules/{id}/enacted.
type SetEnactedRequest struct {
	Enacted bool `json:"enacted"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	gen := h.deps.Engine.Current()
	global, app, invalid := gen.Whitelist.Counts()

	resp := StatusResponse{
		Generation:   gen.ID,
		Stats:        gen.Stats,
		Filtering:    h.deps.Engine.Filtering(),
		Whitelist:    WhitelistStatus{Global: global, App: app, Invalid: invalid},
		AppOverrides: len(gen.Apps),
	}
	if !gen.LoadedAt.IsZero() {
		loaded := gen.LoadedAt
		resp.LoadedAt = &loaded
	}
	if h.deps.Toggle != nil {
		ts := &ToggleStatus{Enabled: h.deps.Toggle.Enabled()}
		if next := h.deps.Toggle.NextToggle(); !next.IsZero() {
			ts.NextToggle = &next
		}
		resp.Toggle = ts
	}
	if h.deps.Preferences != nil {
		summary := h.deps.Preferences.Summary()
		resp.Preferences = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRules(w http.ResponseWriter, r *http.Request) {
	gen := h.deps.Engine.Current()
	writeJSON(w, http.StatusOK, RulesResponse{
		Generation: gen.ID,
		Entries:    gen.Whitelist.Entries(),
		Apps:       gen.Apps,
	})
}

func (h *Handler) handleListStored(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "rule store not available")
		return
	}
	list, err := h.deps.Store.ListRules(r.Context())
	if err != nil {
		h.logger.Error("list rules failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []store.Rule{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAddRule(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "rule store not available")
		return
	}
	var req AddRuleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.checkRule(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	enacted := req.Enacted == nil || *req.Enacted

	var id int64
	err := h.deps.Engine.Mutate(r.Context(), func(ctx context.Context) error {
		var err error
		id, err = h.deps.Store.AddRule(ctx, req.Text, enacted)
		return err
	})
	if err != nil {
		h.logger.Error("add rule failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Info("rule added", "id", id, "enacted", enacted)
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// anyPackage accepts every package name. Rules are checked with it so a
// rule can be stored before its package is installed.
var anyPackage = rules.ResolverFunc(func(string) (rules.UID, error) { return 1, nil })

// checkRule rejects text the loader would never turn into a rule or an
// app enablement. A package the resolver does not know yet is only logged;
// the loader skips such lines until the package appears.
func (h *Handler) checkRule(text string) error {
	cs, err := rules.ParseLine(text, anyPackage)
	if err != nil {
		return err
	}
	name, named := cs.String(rules.FieldPackageName)
	if _, err := rules.Translate(cs); err != nil {
		if !named || !errors.Is(err, rules.ErrNoTarget) {
			return err
		}
	}
	if named && h.deps.Resolver != nil {
		if _, err := h.deps.Resolver.Resolve(name); err != nil {
			h.logger.Warn("rule names an unknown package", "package", name, "error", err)
		}
	}
	return nil
}

// ReplaceRulesRequest is the body of PUT /v1/rules.
type ReplaceRulesRequest struct {
	Rules []string `json:"rules"`
}

func (h *Handler) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "rule store not available")
		return
	}
	var req ReplaceRulesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for i, text := range req.Rules {
		if err := h.checkRule(text); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("rule %d: %v", i+1, err))
			return
		}
	}
	err := h.deps.Engine.Mutate(r.Context(), func(ctx context.Context) error {
		return h.deps.Store.ReplaceEnacted(ctx, req.Rules)
	})
	if err != nil {
		h.logger.Error("replace rules failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Info("enacted rules replaced", "rules", len(req.Rules))
	writeJSON(w, http.StatusOK, map[string]int{"replaced": len(req.Rules)})
}

func (h *Handler) handleSetEnacted(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	var req SetEnactedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.deps.Engine.Mutate(r.Context(), func(ctx context.Context) error {
		return h.deps.Store.SetEnacted(ctx, id, req.Enacted)
	})
	if h.storeError(w, "set enacted", err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	err := h.deps.Engine.Mutate(r.Context(), func(ctx context.Context) error {
		return h.deps.Store.DeleteRule(ctx, id)
	})
	if h.storeError(w, "delete rule", err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ruleID parses the {id} path value. It writes the error response itself.
func (h *Handler) ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "rule store not available")
		return 0, false
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return 0, false
	}
	return id, true
}

// storeError writes the response for a failed store mutation and reports
// whether it did.
func (h *Handler) storeError(w http.ResponseWriter, op string, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	return true
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reloader == nil {
		writeError(w, http.StatusServiceUnavailable, "reload not available")
		return
	}
	h.deps.Reloader.RequestReload("api")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload requested"})
}

func (h *Handler) handleAppQuery(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	appCtx := r.PathValue("context")

	def := false
	if v := r.URL.Query().Get("default"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid default")
			return
		}
		def = b
	}

	table := h.deps.Engine.Table()
	var enabled bool
	switch appCtx {
	case "wifi":
		enabled = table.WifiEnabledForApp(name, def)
	case "other":
		enabled = table.OtherEnabledForApp(name, def)
	case "screen_wifi":
		enabled = table.ScreenWifiEnabledForApp(name, def)
	case "screen_other":
		enabled = table.ScreenOtherEnabledForApp(name, def)
	default:
		writeError(w, http.StatusBadRequest, "unknown context "+strconv.Quote(appCtx))
		return
	}
	writeJSON(w, http.StatusOK, AppResponse{Package: name, Context: appCtx, Enabled: enabled})
}

func (h *Handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var uid rules.UID
	if v := q.Get("uid"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid uid")
			return
		}
		uid = rules.UID(n)
	} else if peer, ok := peerUID(r); ok {
		uid = rules.UID(peer)
	}

	host, ipText := q.Get("host"), q.Get("ip")
	if (host == "") == (ipText == "") {
		writeError(w, http.StatusBadRequest, "exactly one of host or ip is required")
		return
	}

	resp := MatchResponse{UID: uid, Host: host, IP: ipText, Filtering: h.deps.Engine.Filtering()}
	if host != "" {
		resp.Matched = h.deps.Engine.AllowsHost(uid, host)
	} else {
		ip, err := netip.ParseAddr(ipText)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ip")
			return
		}
		resp.Matched = h.deps.Engine.AllowsIP(uid, ip)
	}
	resp.Allowed = resp.Matched || !resp.Filtering
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
