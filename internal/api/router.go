// Package api serves the synchronized snapshot, health, issues and control
// actions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/config"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/diagnostics"
	internalerrors "github.com/ruaan-deysel/ha-unraid-management-agent/internal/errors"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/issues"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/logging"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/monitoring"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/websocket"
	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

const defaultActionTimeout = 30 * time.Second

// Coordinator is the synchronization surface the router drives.
type Coordinator interface {
	StateSource
	Invoke(ctx context.Context, action unraid.Action, target string) error
	RequestRefresh()
}

// IssueLister reports the currently raised issues.
type IssueLister interface {
	Issues() []issues.Issue
}

// Router wires HTTP routes to the coordinator.
type Router struct {
	mux      *http.ServeMux
	coord    Coordinator
	issues   IssueLister
	hub      *websocket.Hub
	redactor *diagnostics.Redactor
	version  string

	actionTimeout time.Duration
	recentLogs    func() []string
	now           func() time.Time

	cfgMu sync.RWMutex
	cfg   *config.Config
}

// NewRouter builds the router. checker and hub may be nil.
func NewRouter(cfg *config.Config, coord Coordinator, checker IssueLister, hub *websocket.Hub, version string) *Router {
	r := &Router{
		mux:           http.NewServeMux(),
		coord:         coord,
		issues:        checker,
		hub:           hub,
		redactor:      diagnostics.NewRedactor(),
		version:       version,
		actionTimeout: defaultActionTimeout,
		recentLogs:    logging.Recent,
		now:           time.Now,
		cfg:           cfg,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/state", r.handleState)
	r.mux.HandleFunc("/api/state/", r.handleDomain)
	r.mux.HandleFunc("/api/issues", r.handleIssues)
	r.mux.HandleFunc("/api/diagnostics", r.handleDiagnostics)
	r.mux.HandleFunc("/api/refresh", r.handleRefresh)
	r.mux.HandleFunc("/api/actions", r.handleListActions)
	r.mux.HandleFunc("/api/actions/", r.handleAction)
	r.mux.HandleFunc("/ws", r.handleWebSocket)
}

// Handler returns the root handler with middleware applied.
func (r *Router) Handler() http.Handler {
	return ErrorHandler(r.mux)
}

// SetConfig swaps the configuration reported by diagnostics.
func (r *Router) SetConfig(cfg *config.Config) {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	r.cfg = cfg
}

func (r *Router) config() *config.Config {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg
}

// State renders the current snapshot with coordinator status.
func (r *Router) State() State {
	return CurrentState(r.coord)
}

// Resolve maps a coordinator change topic to a websocket message.
func (r *Router) Resolve(topic string) websocket.Message {
	if topic == monitoring.TopicAvailability {
		return websocket.Message{Type: websocket.TypeAvailability, Data: r.coord.Status()}
	}
	entry, ok := r.coord.Snapshot().Get(topic)
	if !ok {
		return websocket.Message{Type: websocket.TypeDomainUpdate, Data: DomainState{Domain: topic}}
	}
	return websocket.Message{Type: websocket.TypeDomainUpdate, Data: domainState(topic, entry)}
}

func allowMethod(w http.ResponseWriter, req *http.Request, method string) bool {
	if req.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	return false
}

type healthResponse struct {
	Status     string    `json:"status"`
	Connection string    `json:"connection"`
	LastPoll   time.Time `json:"last_poll,omitzero"`
	Version    string    `json:"version"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if !allowMethod(w, req, http.MethodGet) {
		return
	}
	status := r.coord.Status()
	code := http.StatusOK
	if status.Availability == monitoring.Unavailable {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:     status.Availability.String(),
		Connection: status.Connection.String(),
		LastPoll:   status.LastPoll,
		Version:    r.version,
	})
}

func (r *Router) handleState(w http.ResponseWriter, req *http.Request) {
	if !allowMethod(w, req, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, r.State())
}

func (r *Router) handleDomain(w http.ResponseWriter, req *http.Request) {
	if !allowMethod(w, req, http.MethodGet) {
		return
	}
	name := strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/state/"), "/")
	entry, ok := r.coord.Snapshot().Get(name)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "domain_not_found", "Domain has no data", map[string]string{"domain": name})
		return
	}
	writeJSON(w, http.StatusOK, domainState(name, entry))
}

func (r *Router) currentIssues() []issues.Issue {
	if r.issues == nil {
		return []issues.Issue{}
	}
	list := r.issues.Issues()
	if list == nil {
		list = []issues.Issue{}
	}
	return list
}

func (r *Router) handleIssues(w http.ResponseWriter, req *http.Request) {
	if !allowMethod(w, req, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, r.currentIssues())
}

func (r *Router) handleDiagnostics(w http.ResponseWriter, req *http.Request) {
	if !allowMethod(w, req, http.MethodGet) {
		return
	}

	var cfg any
	if c := r.config(); c != nil {
		cfg = c.Redacted()
	}
	bundle, err := r.redactor.Build(diagnostics.Input{
		Version:  r.version,
		Config:   cfg,
		Status:   r.coord.Status(),
		Snapshot: r.State().Domains,
		Issues:   r.currentIssues(),
		Logs:     r.recentLogs(),
	}, r.now())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "diagnostics_failed", "Failed to build diagnostics", nil)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	if !allowMethod(w, req, http.MethodPost) {
		return
	}
	r.coord.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh_requested"})
}

type actionInfo struct {
	Name        unraid.Action `json:"name"`
	NeedsTarget bool          `json:"needs_target"`
}

func (r *Router) handleListActions(w http.ResponseWriter, req *http.Request) {
	if !allowMethod(w, req, http.MethodGet) {
		return
	}
	actions := unraid.Actions()
	out := make([]actionInfo, 0, len(actions))
	for _, a := range actions {
		out = append(out, actionInfo{Name: a, NeedsTarget: a.NeedsTarget()})
	}
	writeJSON(w, http.StatusOK, out)
}

type actionRequest struct {
	Target string `json:"target"`
}

type actionResponse struct {
	Action unraid.Action `json:"action"`
	Target string        `json:"target,omitempty"`
	Status string        `json:"status"`
}

func (r *Router) handleAction(w http.ResponseWriter, req *http.Request) {
	if !allowMethod(w, req, http.MethodPost) {
		return
	}

	name := strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/actions/"), "/")
	action, err := unraid.ParseAction(name)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "unknown_action", "Unknown action", map[string]string{"action": name})
		return
	}

	target := strings.TrimSpace(req.URL.Query().Get("target"))
	if target == "" && req.Body != nil {
		var body actionRequest
		if err := json.NewDecoder(io.LimitReader(req.Body, 4096)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "Request body must be JSON", nil)
			return
		}
		target = strings.TrimSpace(body.Target)
	}
	if action.NeedsTarget() && target == "" {
		writeErrorResponse(w, http.StatusBadRequest, "missing_target", "Action requires a target", map[string]string{"action": string(action)})
		return
	}
	if !action.NeedsTarget() {
		target = ""
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.actionTimeout)
	defer cancel()

	if err := r.coord.Invoke(ctx, action, target); err != nil {
		code, label := actionErrorStatus(err)
		writeErrorResponse(w, code, label, "Action failed", map[string]string{"action": string(action)})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Action: action, Target: target, Status: "ok"})
}

func actionErrorStatus(err error) (int, string) {
	switch internalerrors.TypeOf(err) {
	case internalerrors.ErrorTypeValidation:
		return http.StatusBadRequest, "invalid_action"
	case internalerrors.ErrorTypeNotFound:
		return http.StatusNotFound, "target_not_found"
	case internalerrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, "agent_timeout"
	case internalerrors.ErrorTypeConnection, internalerrors.ErrorTypeAPI:
		return http.StatusBadGateway, "agent_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeErrorResponse(w, http.StatusNotFound, "websocket_disabled", "WebSocket hub is not enabled", nil)
		return
	}
	r.hub.HandleWebSocket(w, req)
}
