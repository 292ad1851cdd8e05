package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestPostForwardsHeadersAndBody(t *testing.T) {
	var gotAuth, gotContentType, gotCustom string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("X-Custom")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", false, false)
	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer client-key")
	inbound.Set("X-Custom", "yes")
	inbound.Set("Content-Length", "999")

	resp, err := c.Post(context.Background(), "/chat/completions", []byte(`{"model":"m"}`), inbound, nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if gotAuth != "Bearer client-key" {
		t.Errorf("authorization: %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("content-type: %q", gotContentType)
	}
	if gotCustom != "yes" {
		t.Errorf("custom header: %q", gotCustom)
	}
	if string(gotBody) != `{"model":"m"}` {
		t.Errorf("body: %s", gotBody)
	}
}

func TestPostAPIKeyOverridesAuthorization(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "server-key", false, false)
	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer client-key")

	resp, err := c.Post(context.Background(), "/chat/completions", []byte("{}"), inbound, nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer server-key" {
		t.Errorf("authorization: %q", gotAuth)
	}
}

func TestGetForwardsQuery(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", false, false)
	q := url.Values{}
	q.Set("limit", "5")

	resp, err := c.Get(context.Background(), "/models", nil, q)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if gotQuery.Get("limit") != "5" {
		t.Errorf("query: %v", gotQuery)
	}
}
