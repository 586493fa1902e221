package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"wallo.org/internal/audit"
	"wallo.org/internal/auth"
	"wallo.org/internal/moderation"
	"wallo.org/internal/platformclient"
)

// skipActionID is the pseudo-decision the dashboard sends to advance the
// review queue without recording anything.
const skipActionID = "__skip__"

type casePageResponse struct {
	Case    moderation.Case            `json:"case"`
	Subject moderation.SubjectSnapshot `json:"subject"`
	Actions []moderation.Action        `json:"actions"`
	Rules   []moderation.Rule          `json:"rules"`
}

// getCase returns the case, its history, the platform rules and a fresh
// subject snapshot fetched from the platform. The snapshot read is a pure
// interactive read: an upstream failure surfaces with the upstream's status
// and message, and nothing is mutated.
func (a *API) getCase(w http.ResponseWriter, r *http.Request, platformID, rawKind, caseID string) {
	userID, _ := auth.UserIDFromContext(r.Context())
	platform, err := auth.CanModerate(r.Context(), a.store, platformID, userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	kind, err := moderation.ParseKind(rawKind)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	ref := moderation.CaseRef{PlatformID: platformID, RelevantID: caseID, Kind: kind}

	cs, err := a.store.CaseByRef(r.Context(), ref)
	if errors.Is(err, moderation.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	subject, err := a.subjects.RetrieveSubjectData(r.Context(), platform.CallbackURL, platform.Secret, kind, caseID)
	if err != nil {
		var callErr *platformclient.CallError
		if errors.As(err, &callErr) {
			writeError(w, r, callErr.Code, callErr.Message)
			return
		}
		writeError(w, r, http.StatusBadGateway, "platform unreachable")
		return
	}

	actions, err := a.store.ActionsForCase(r.Context(), ref)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	rules, err := a.store.RulesForPlatform(r.Context(), platformID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, casePageResponse{
		Case:    cs,
		Subject: subject,
		Actions: actions,
		Rules:   rules,
	})
}

type caseActionRequest struct {
	ID      string `json:"id"`
	Display string `json:"display,omitempty"`
}

type caseActionResponse struct {
	Status   string           `json:"status"`
	NextCase *moderation.Case `json:"next_case"`
}

func (a *API) applyCaseAction(w http.ResponseWriter, r *http.Request, platformID, rawKind, caseID string) {
	userID, _ := auth.UserIDFromContext(r.Context())
	if _, err := auth.CanModerate(r.Context(), a.store, platformID, userID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	kind, err := moderation.ParseKind(rawKind)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	ref := moderation.CaseRef{PlatformID: platformID, RelevantID: caseID, Kind: kind}

	var req caseActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, r, http.StatusBadRequest, "id is required")
		return
	}

	status := "skipped"
	if req.ID != skipActionID {
		if err := a.coordinator.ApplyAction(r.Context(), ref, userID, moderation.Decision{ID: req.ID, Display: req.Display}); err != nil {
			handleDomainError(w, r, err)
			return
		}
		status = "resolved"
		_ = audit.LogEvent(r.Context(), "case.resolved", map[string]any{
			"platform_id": platformID,
			"relevant_id": caseID,
			"kind":        string(kind),
			"action":      req.ID,
		})
	}

	resp := caseActionResponse{Status: status}
	if next, err := a.coordinator.NextCase(r.Context(), platformID, &ref); err == nil {
		resp.NextCase = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

type caseCommentRequest struct {
	Text string `json:"text"`
}

func (a *API) applyCaseComment(w http.ResponseWriter, r *http.Request, platformID, rawKind, caseID string) {
	userID, _ := auth.UserIDFromContext(r.Context())
	if _, err := auth.CanModerate(r.Context(), a.store, platformID, userID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	kind, err := moderation.ParseKind(rawKind)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var req caseCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, http.StatusBadRequest, "text is required")
		return
	}

	ref := moderation.CaseRef{PlatformID: platformID, RelevantID: caseID, Kind: kind}
	if err := a.coordinator.ApplyComment(r.Context(), ref, userID, req.Text); err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"status": "recorded"})
}
