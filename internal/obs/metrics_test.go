package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/metrics":                 "/metrics",
		"/v1/entities/abc":         "/v1/entities/:id",
		"/v1/entities/abc/archive": "/v1/entities/:id/archive",
		"/v1/roles/r1":             "/v1/roles/:id",
		"/v1/events/e1/replay":     "/v1/events/:id/replay",
		"/v1/authorize":            "/v1/authorize",
		"/v1/audit/verify?start=1": "/v1/audit/verify",
		"/v1/entities/a/b/c":       "/v1/entities/a/b/c",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
