package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"wallo.org/internal/audit"
	"wallo.org/internal/auth"
	"wallo.org/internal/moderation"
	"wallo.org/internal/token"
)

const platformIDLength = 20

type requestPublicationBody struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
	Kind     string `json:"kind"`
}

// handleRequestPublication is the inbound half of the platform protocol: a
// platform asks for a subject to be reviewed. Authentication is the platform
// secret, compared in constant time; this is deliberately not a session
// endpoint.
func (a *API) handleRequestPublication(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	secret, _ := extractBearerToken(r.Header.Get(authHeader))

	var body requestPublicationBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	platform, err := a.store.PlatformByID(r.Context(), body.ClientID)
	if errors.Is(err, moderation.ErrNotFound) {
		writeError(w, r, http.StatusBadRequest, "unknown client")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	// A missing credential fails the comparison like any wrong one; the 400
	// above is the only distinction the caller gets (status only, no details).
	if !token.TimingSafeEqual(secret, platform.Secret) {
		writeError(w, r, http.StatusForbidden, "wrong API key")
		return
	}

	kind, err := moderation.ParseKind(body.Kind)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "kind must be content, account or community")
		return
	}
	if strings.TrimSpace(body.ID) == "" {
		writeError(w, r, http.StatusBadRequest, "id is required")
		return
	}

	if err := a.coordinator.OpenCase(r.Context(), platform.ID, body.ID, kind); err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "case.opened", map[string]any{
		"platform_id": platform.ID,
		"relevant_id": body.ID,
		"kind":        string(kind),
	})

	// Success is an empty 200 by protocol contract.
	w.WriteHeader(http.StatusOK)
}

type createPlatformRequest struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	CallbackURL    string `json:"callback_url"`
}

type platformCreatedResponse struct {
	Platform moderation.Platform `json:"platform"`
	Secret   string              `json:"secret"`
}

func (a *API) handlePlatformsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createPlatform(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) createPlatform(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createPlatformRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	if !isAbsoluteURL(req.CallbackURL) {
		writeError(w, r, http.StatusBadRequest, "callback_url must be an absolute http(s) URL")
		return
	}

	admin, err := auth.IsOrganizationAdmin(r.Context(), a.store, req.OrganizationID, userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !admin {
		writeError(w, r, http.StatusForbidden, "not an organization admin")
		return
	}

	id, err := token.GenerateID(platformIDLength, token.Base62)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	platform := moderation.Platform{
		ID:             id,
		OrganizationID: req.OrganizationID,
		Name:           strings.TrimSpace(req.Name),
		CallbackURL:    req.CallbackURL,
		Secret:         token.GenerateAPISecret(),
	}
	if err := a.store.CreatePlatform(r.Context(), platform); err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "platform.created", map[string]any{
		"platform_id":     platform.ID,
		"organization_id": platform.OrganizationID,
	})

	// The secret is revealed exactly once, at creation and rotation.
	writeJSON(w, http.StatusCreated, platformCreatedResponse{Platform: platform, Secret: platform.Secret})
}

// handlePlatformResource routes /v1/platforms/{id}[...]: platform detail,
// secret rotation and the per-case endpoints.
func (a *API) handlePlatformResource(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/platforms/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	platformID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getPlatform(w, r, platformID)
	case len(parts) == 2 && parts[1] == "secret":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.rotatePlatformSecret(w, r, platformID)
	case len(parts) == 4 && parts[1] == "cases":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getCase(w, r, platformID, parts[2], parts[3])
	case len(parts) == 5 && parts[1] == "cases" && parts[4] == "action":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.applyCaseAction(w, r, platformID, parts[2], parts[3])
	case len(parts) == 5 && parts[1] == "cases" && parts[4] == "comment":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.applyCaseComment(w, r, platformID, parts[2], parts[3])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

type platformDetailResponse struct {
	Platform moderation.Platform `json:"platform"`
	Rules    []moderation.Rule   `json:"rules"`
	Cases    []moderation.Case   `json:"unresolved_cases"`
}

func (a *API) getPlatform(w http.ResponseWriter, r *http.Request, platformID string) {
	userID, _ := auth.UserIDFromContext(r.Context())
	platform, err := auth.CanModerate(r.Context(), a.store, platformID, userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	rules, err := a.store.RulesForPlatform(r.Context(), platformID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	cases, err := a.store.UnresolvedCases(r.Context(), platformID, 100)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, platformDetailResponse{Platform: platform, Rules: rules, Cases: cases})
}

func (a *API) rotatePlatformSecret(w http.ResponseWriter, r *http.Request, platformID string) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	platform, err := a.store.PlatformByID(r.Context(), platformID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	admin, err := auth.IsOrganizationAdmin(r.Context(), a.store, platform.OrganizationID, userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !admin {
		writeError(w, r, http.StatusForbidden, "not an organization admin")
		return
	}

	// Rotation is immediate: the previous secret stops verifying as soon as
	// the store write lands, with no grace period.
	secret := token.GenerateAPISecret()
	if err := a.store.UpdatePlatformSecret(r.Context(), platformID, secret); err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "platform.secret_rotated", map[string]any{
		"platform_id": platformID,
	})

	writeJSON(w, http.StatusOK, map[string]any{"secret": secret})
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
