package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"wallo.org/internal/auth"
	"wallo.org/internal/moderation"
	"wallo.org/internal/queue"
	"wallo.org/internal/stream"
)

type fakeProtocolClient struct {
	mu       sync.Mutex
	notified []string
	snapshot moderation.SubjectSnapshot
	err      error
}

func (f *fakeProtocolClient) RetrieveSubjectData(ctx context.Context, endpoint, secret string, kind moderation.Kind, relevantID string) (moderation.SubjectSnapshot, error) {
	if f.err != nil {
		return moderation.SubjectSnapshot{}, f.err
	}
	return f.snapshot, nil
}

func (f *fakeProtocolClient) InformPlatformOfAction(ctx context.Context, endpoint, secret string, kind moderation.Kind, relevantID, actionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, relevantID+":"+actionID)
	return f.err
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	store    *moderation.InMemory
	queue    *queue.Memory
	protocol *fakeProtocolClient
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("WALLO_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	store := moderation.NewInMemory()
	q := queue.NewMemory()
	protocol := &fakeProtocolClient{
		snapshot: moderation.SubjectSnapshot{
			Medias:          []moderation.Media{{Kind: "text", Message: "hello"}},
			PossibleActions: []moderation.PossibleAction{{ID: "remove", Display: "Remove"}},
		},
	}
	coordinator := moderation.NewCoordinator(store, protocol, q, stream.New())

	api := New(ReadyProbe{}, "test", store, coordinator, protocol, stream.New())
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		store:    store,
		queue:    q,
		protocol: protocol,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

// seedPlatform registers a platform, its org admin and a moderator and returns
// the moderator's session headers.
func (c *apiClient) seedPlatform(t *testing.T) (moderation.Platform, map[string]string) {
	t.Helper()
	ctx := context.Background()

	hash, err := auth.HashPassword("s3cret-password")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	mod := moderation.Moderator{ID: "mod-1", Email: "mod@example.com", Name: "Mod", PasswordHash: hash}
	if err := c.store.CreateModerator(ctx, mod); err != nil {
		t.Fatalf("create moderator: %v", err)
	}
	if err := c.store.CreateOrganization(ctx, moderation.Organization{ID: "org-1", Name: "Org", AdminID: "admin-1"}); err != nil {
		t.Fatalf("create org: %v", err)
	}
	platform := moderation.Platform{
		ID:             "plat-1",
		OrganizationID: "org-1",
		Name:           "Example",
		CallbackURL:    "https://platform.example/api",
		Secret:         "platform-secret",
	}
	if err := c.store.CreatePlatform(ctx, platform); err != nil {
		t.Fatalf("create platform: %v", err)
	}
	if err := c.store.AddPlatformModerator(ctx, platform.ID, mod.ID); err != nil {
		t.Fatalf("add moderator: %v", err)
	}

	resp := c.post("/v1/auth/login", map[string]string{
		"email":    "mod@example.com",
		"password": "s3cret-password",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	tok := decode[tokenResponse](t, resp)
	return platform, map[string]string{"Authorization": "Bearer " + tok.Token}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["service"] != "wallo-api" {
		t.Fatalf("service = %v", body["service"])
	}

	resp = c.get("/v1/info", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info status = %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	c := newTestAPI(t)
	c.seedPlatform(t)

	resp := c.post("/v1/auth/login", map[string]string{
		"email":    "mod@example.com",
		"password": "wrong",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// Unknown account must be indistinguishable from a wrong password.
	resp = c.post("/v1/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "wrong",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRequestPublicationOpensCase(t *testing.T) {
	c := newTestAPI(t)
	platform, _ := c.seedPlatform(t)

	resp := c.post("/api/v0/requestPublication", map[string]string{
		"id":       "post-42",
		"clientId": platform.ID,
		"kind":     "content",
	}, map[string]string{"Authorization": "Bearer platform-secret"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	cs, err := c.store.CaseByRef(context.Background(), moderation.CaseRef{
		PlatformID: platform.ID, RelevantID: "post-42", Kind: moderation.KindContent,
	})
	if err != nil {
		t.Fatalf("case not created: %v", err)
	}
	if cs.Status != moderation.StatusUnresolved {
		t.Fatalf("status = %s", cs.Status)
	}

	actions, err := c.store.ActionsForCase(context.Background(), cs.Ref())
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	if len(actions) != 1 || actions[0].Payload.Kind != moderation.PayloadRequestPublication {
		t.Fatalf("unexpected history: %+v", actions)
	}
}

func TestRequestPublicationWrongSecret(t *testing.T) {
	c := newTestAPI(t)
	platform, _ := c.seedPlatform(t)

	resp := c.post("/api/v0/requestPublication", map[string]string{
		"id":       "post-42",
		"clientId": platform.ID,
		"kind":     "content",
	}, map[string]string{"Authorization": "Bearer not-the-secret"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	_, err := c.store.CaseByRef(context.Background(), moderation.CaseRef{
		PlatformID: platform.ID, RelevantID: "post-42", Kind: moderation.KindContent,
	})
	if err == nil {
		t.Fatal("case must not be created on rejected credentials")
	}
}

func TestRequestPublicationUnknownClient(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/api/v0/requestPublication", map[string]string{
		"id":       "post-42",
		"clientId": "ghost",
		"kind":     "content",
	}, map[string]string{"Authorization": "Bearer whatever"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRequestPublicationDuplicateIsIdempotent(t *testing.T) {
	c := newTestAPI(t)
	platform, _ := c.seedPlatform(t)

	body := map[string]string{"id": "post-1", "clientId": platform.ID, "kind": "account"}
	headers := map[string]string{"Authorization": "Bearer platform-secret"}
	for i := 0; i < 2; i++ {
		resp := c.post("/api/v0/requestPublication", body, headers)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d status = %d", i, resp.StatusCode)
		}
	}

	// "account" normalizes to the user kind.
	cases, err := c.store.UnresolvedCases(context.Background(), platform.ID, 10)
	if err != nil {
		t.Fatalf("cases: %v", err)
	}
	if len(cases) != 1 || cases[0].Kind != moderation.KindUser {
		t.Fatalf("cases = %+v", cases)
	}
}

func TestGetCaseReturnsSubjectAndHistory(t *testing.T) {
	c := newTestAPI(t)
	platform, headers := c.seedPlatform(t)

	resp := c.post("/api/v0/requestPublication", map[string]string{
		"id": "post-9", "clientId": platform.ID, "kind": "content",
	}, map[string]string{"Authorization": "Bearer platform-secret"})
	resp.Body.Close()

	resp = c.get("/v1/platforms/"+platform.ID+"/cases/content/post-9", headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	page := decode[casePageResponse](t, resp)
	if page.Case.RelevantID != "post-9" {
		t.Fatalf("case = %+v", page.Case)
	}
	if len(page.Subject.PossibleActions) != 1 || page.Subject.PossibleActions[0].ID != "remove" {
		t.Fatalf("subject = %+v", page.Subject)
	}
	if len(page.Actions) != 1 {
		t.Fatalf("history = %+v", page.Actions)
	}
}

func TestGetCaseRequiresSession(t *testing.T) {
	c := newTestAPI(t)
	platform, _ := c.seedPlatform(t)

	resp := c.get("/v1/platforms/"+platform.ID+"/cases/content/post-9", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestApplyActionResolvesAndQueues(t *testing.T) {
	c := newTestAPI(t)
	platform, headers := c.seedPlatform(t)

	resp := c.post("/api/v0/requestPublication", map[string]string{
		"id": "post-7", "clientId": platform.ID, "kind": "content",
	}, map[string]string{"Authorization": "Bearer platform-secret"})
	resp.Body.Close()

	resp = c.post("/v1/platforms/"+platform.ID+"/cases/content/post-7/action", map[string]string{
		"id": "remove", "display": "Remove",
	}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decode[caseActionResponse](t, resp)
	if out.Status != "resolved" {
		t.Fatalf("status = %q", out.Status)
	}

	cs, err := c.store.CaseByRef(context.Background(), moderation.CaseRef{
		PlatformID: platform.ID, RelevantID: "post-7", Kind: moderation.KindContent,
	})
	if err != nil {
		t.Fatalf("case: %v", err)
	}
	if cs.Status != moderation.StatusResolved {
		t.Fatalf("case status = %s", cs.Status)
	}
	if c.queue.Size() != 1 {
		t.Fatalf("queue size = %d, want 1", c.queue.Size())
	}
}

func TestApplyActionOnResolvedCaseConflicts(t *testing.T) {
	c := newTestAPI(t)
	platform, headers := c.seedPlatform(t)

	resp := c.post("/api/v0/requestPublication", map[string]string{
		"id": "post-8", "clientId": platform.ID, "kind": "content",
	}, map[string]string{"Authorization": "Bearer platform-secret"})
	resp.Body.Close()

	path := "/v1/platforms/" + platform.ID + "/cases/content/post-8/action"
	resp = c.post(path, map[string]string{"id": "approve"}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first action status = %d", resp.StatusCode)
	}

	resp = c.post(path, map[string]string{"id": "remove"}, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second action status = %d, want 409", resp.StatusCode)
	}
}

func TestSkipActionAdvancesWithoutRecording(t *testing.T) {
	c := newTestAPI(t)
	platform, headers := c.seedPlatform(t)

	for _, id := range []string{"post-a", "post-b"} {
		resp := c.post("/api/v0/requestPublication", map[string]string{
			"id": id, "clientId": platform.ID, "kind": "content",
		}, map[string]string{"Authorization": "Bearer platform-secret"})
		resp.Body.Close()
	}

	resp := c.post("/v1/platforms/"+platform.ID+"/cases/content/post-a/action", map[string]string{
		"id": "__skip__",
	}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decode[caseActionResponse](t, resp)
	if out.Status != "skipped" {
		t.Fatalf("status = %q", out.Status)
	}
	if out.NextCase == nil || out.NextCase.RelevantID != "post-b" {
		t.Fatalf("next case = %+v", out.NextCase)
	}

	cases, _ := c.store.UnresolvedCases(context.Background(), platform.ID, 10)
	if len(cases) != 2 {
		t.Fatalf("skip must not resolve anything, cases = %d", len(cases))
	}
}

func TestApplyComment(t *testing.T) {
	c := newTestAPI(t)
	platform, headers := c.seedPlatform(t)

	resp := c.post("/api/v0/requestPublication", map[string]string{
		"id": "post-c", "clientId": platform.ID, "kind": "content",
	}, map[string]string{"Authorization": "Bearer platform-secret"})
	resp.Body.Close()

	resp = c.post("/v1/platforms/"+platform.ID+"/cases/content/post-c/comment", map[string]string{
		"text": "needs a second look",
	}, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	actions, _ := c.store.ActionsForCase(context.Background(), moderation.CaseRef{
		PlatformID: platform.ID, RelevantID: "post-c", Kind: moderation.KindContent,
	})
	if len(actions) != 2 || actions[1].Payload.Kind != moderation.PayloadComment {
		t.Fatalf("history = %+v", actions)
	}
}

func TestCreatePlatformRequiresOrgAdmin(t *testing.T) {
	c := newTestAPI(t)
	_, headers := c.seedPlatform(t)

	// mod-1 is a platform moderator, not the org admin.
	resp := c.post("/v1/platforms", map[string]string{
		"organization_id": "org-1",
		"name":            "Second",
		"callback_url":    "https://second.example/api",
	}, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestCreatePlatformAndRotateSecret(t *testing.T) {
	c := newTestAPI(t)
	c.seedPlatform(t)

	// Log in as the org admin.
	hash, _ := auth.HashPassword("admin-password")
	if err := c.store.CreateModerator(context.Background(), moderation.Moderator{
		ID: "admin-1", Email: "admin@example.com", Name: "Admin", PasswordHash: hash,
	}); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	resp := c.post("/v1/auth/login", map[string]string{
		"email": "admin@example.com", "password": "admin-password",
	}, nil)
	tok := decode[tokenResponse](t, resp)
	headers := map[string]string{"Authorization": "Bearer " + tok.Token}

	resp = c.post("/v1/platforms", map[string]string{
		"organization_id": "org-1",
		"name":            "Second",
		"callback_url":    "https://second.example/api",
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decode[platformCreatedResponse](t, resp)
	if created.Secret == "" || len(created.Platform.ID) != platformIDLength {
		t.Fatalf("created = %+v secret=%q", created.Platform, created.Secret)
	}

	resp = c.post("/v1/platforms/"+created.Platform.ID+"/secret", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate status = %d", resp.StatusCode)
	}
	rotated := decode[map[string]string](t, resp)
	if rotated["secret"] == "" || rotated["secret"] == created.Secret {
		t.Fatal("rotation must mint a fresh secret")
	}

	// The old secret stops working immediately.
	resp = c.post("/api/v0/requestPublication", map[string]string{
		"id": "x", "clientId": created.Platform.ID, "kind": "content",
	}, map[string]string{"Authorization": "Bearer " + created.Secret})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("old secret status = %d, want 403", resp.StatusCode)
	}
}

func TestGetPlatformListsUnresolvedCases(t *testing.T) {
	c := newTestAPI(t)
	platform, headers := c.seedPlatform(t)

	for _, id := range []string{"p1", "p2"} {
		resp := c.post("/api/v0/requestPublication", map[string]string{
			"id": id, "clientId": platform.ID, "kind": "content",
		}, map[string]string{"Authorization": "Bearer platform-secret"})
		resp.Body.Close()
	}

	resp := c.get("/v1/platforms/"+platform.ID, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	detail := decode[platformDetailResponse](t, resp)
	if len(detail.Cases) != 2 {
		t.Fatalf("cases = %+v", detail.Cases)
	}
	if detail.Platform.ID != platform.ID {
		t.Fatalf("platform = %+v", detail.Platform)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	c := newTestAPI(t)

	req, _ := http.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("X-Request-Id = %q", got)
	}
}
