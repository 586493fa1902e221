package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/healthz":                  "/healthz",
		"/api/v0/requestPublication": "/api/v0/requestPublication",
		"/v1/platforms/abc":          "/v1/platforms/:id",
		"/v1/platforms/abc/secret":   "/v1/platforms/:id/secret",
		"/v1/platforms/abc/cases/content/post-1":         "/v1/platforms/:id/cases/:kind/:case",
		"/v1/platforms/abc/cases/content/post-1/action":  "/v1/platforms/:id/cases/:kind/:case/action",
		"/v1/platforms/abc/cases/content/post-1/comment": "/v1/platforms/:id/cases/:kind/:case/comment",
		"/v1/platforms/abc/cases/content":                "/v1/platforms/abc/cases/content",
		"/v1/platforms/abc?limit=10":                     "/v1/platforms/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
