// ABOUTME: HTTP routes of the agent: healthcheck, action form loading and action execution
// ABOUTME: Maps authorization outcomes to JSON error responses and audits every decision

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/servequery/servequery-agent/internal/auth"
	"github.com/servequery/servequery-agent/internal/authorization"
	"github.com/servequery/servequery-agent/internal/store"
	"github.com/servequery/servequery-agent/internal/toolkit"
)

// errNotFound is returned for routes naming an unknown collection or action.
var errNotFound = errors.New("not found")

// Handler returns the agent's HTTP routes. Action routes require a caller token.
func (a *Agent) Handler(verifier auth.TokenVerifier) http.Handler {
	mux := http.NewServeMux()
	authMiddleware := auth.HTTPAuthMiddleware(verifier, a.logger)

	mux.HandleFunc("GET /servequery/healthcheck", a.handleHealthcheck)
	mux.Handle("POST /servequery/_actions/{collection}/{action}/hooks/load", authMiddleware(http.HandlerFunc(a.handleLoadHook)))
	mux.Handle("POST /servequery/_actions/{collection}/{action}", authMiddleware(http.HandlerFunc(a.handleAction)))
	return mux
}

func (a *Agent) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// requestCaller returns a copy of the authenticated caller tagged with a
// fresh request id, and echoes the id in the response.
func requestCaller(w http.ResponseWriter, r *http.Request) *toolkit.Caller {
	caller := *auth.MustCallerFromContext(r.Context())
	caller.RequestID = uuid.NewString()
	w.Header().Set("X-Request-Id", caller.RequestID)
	return &caller
}

// handleLoadHook returns the form of an action to callers allowed to trigger or approve it.
func (a *Agent) handleLoadHook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestCaller(w, r)
	collectionName, actionName := r.PathValue("collection"), r.PathValue("action")

	_, def, ok := a.action(collectionName, actionName)
	if !ok {
		a.writeError(w, caller, errNotFound)
		return
	}

	err := a.authz.AssertCanRequestCustomActionParameters(ctx, caller.ID, actionName, collectionName)
	a.record(ctx, caller, store.AuditRequestActionParameters, collectionName, actionName, "", err)
	if err != nil {
		a.writeError(w, caller, err)
		return
	}

	fields := def.Form
	if fields == nil {
		fields = []FormField{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

// handleAction authorizes and runs an action. A body with requester_id is
// the approval of a request made earlier by that user.
func (a *Agent) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestCaller(w, r)
	collectionName, actionName := r.PathValue("collection"), r.PathValue("action")

	collection, def, ok := a.action(collectionName, actionName)
	if !ok {
		a.writeError(w, caller, errNotFound)
		return
	}

	var body actionBody
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		a.writeError(w, caller, errors.Join(toolkit.ErrValidation, err))
		return
	}
	attrs := body.Data.Attributes

	forCaller, forAllCaller, err := a.callerFilters(ctx, caller, collection, attrs)
	if err != nil {
		a.writeError(w, caller, err)
		return
	}

	req := authorization.ActionRequest{
		Caller:             caller,
		ActionName:         actionName,
		Collection:         collection,
		FilterForCaller:    forCaller,
		FilterForAllCaller: forAllCaller,
	}

	requesterID := attrs.requesterID()
	if requesterID != "" {
		err = a.authz.AssertCanApproveCustomAction(ctx, req, requesterID)
		a.record(ctx, caller, store.AuditApproveAction, collectionName, actionName, requesterID, err)
	} else {
		err = a.authz.AssertCanTriggerCustomAction(ctx, req)
		a.record(ctx, caller, store.AuditTriggerAction, collectionName, actionName, "", err)
	}
	if err != nil {
		a.writeError(w, caller, err)
		return
	}

	result, err := def.Execute(ctx, &ActionContext{
		Caller:      caller,
		Collection:  collection,
		Filter:      forCaller,
		Values:      attrs.Values,
		RequesterID: requesterID,
	})
	if err != nil {
		a.writeError(w, caller, err)
		return
	}

	status := http.StatusOK
	if result.Error != "" {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

// record appends the decision to the audit log. Audit failures are logged
// and never fail the request.
func (a *Agent) record(ctx context.Context, caller *toolkit.Caller, action store.AuditAction, collection, customAction, requesterID string, decision error) {
	outcome := store.AuditOutcomeAllowed
	detail := map[string]any{"request_id": caller.RequestID}
	if requesterID != "" {
		detail["requester_id"] = requesterID
	}

	var forbidden *toolkit.ForbiddenError
	switch {
	case decision == nil:
	case errors.Is(decision, authorization.ErrCustomActionRequiresApproval):
		outcome = store.AuditOutcomeRequiresApproval
		if roleIDs, ok := authorization.RoleIDsAllowedToApprove(decision); ok {
			detail["role_ids_allowed_to_approve"] = roleIDs
		}
	case errors.As(decision, &forbidden):
		outcome = store.AuditOutcomeDenied
		detail["error"] = forbidden.Name
	default:
		outcome = store.AuditOutcomeError
		detail["error"] = decision.Error()
	}

	a.logger.Info("action authorization",
		"request_id", caller.RequestID,
		"user_id", caller.ID,
		"collection", collection,
		"action", customAction,
		"kind", action,
		"outcome", outcome,
	)

	if a.audit == nil {
		return
	}
	entry := &store.AuditEntry{
		ActorUserID:  caller.ID,
		Action:       action,
		Collection:   collection,
		CustomAction: customAction,
		Outcome:      outcome,
		Detail:       detail,
	}
	if err := a.audit.AppendAuditLog(ctx, entry); err != nil {
		a.logger.Warn("failed to append audit log", "error", err, "request_id", caller.RequestID)
	}
}
