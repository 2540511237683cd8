package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/users/01ABCDEF/lock":       "/v1/users/:id/lock",
		"/v1/users/01ABCDEF/roles":      "/v1/users/:id/roles",
		"/v1/auth/login":                "/v1/auth/login",
		"/v1/auth/refresh?client=mobil": "/v1/auth/refresh",
		"/v1/roles":                     "/v1/roles",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
