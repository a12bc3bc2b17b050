package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type echo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Name   string `json:"name,omitempty"`
}

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := echo{Method: r.Method, Path: r.URL.EscapedPath()}
		if r.Body != nil {
			var in struct {
				Name string `json:"name"`
			}
			_ = json.NewDecoder(r.Body).Decode(&in)
			out.Name = in.Name
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/missing"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"message":"not found"}`))
			return
		case strings.HasSuffix(r.URL.Path, "/broken"):
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`upstream down`))
			return
		case strings.HasSuffix(r.URL.Path, "/garbage"):
			_, _ = w.Write([]byte(`{`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func TestNew(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://localhost:3004", false},
		{"http://localhost:3004/", false},
		{"localhost:3004", true},
		{"/relative", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		_, err := New(tt.url, time.Second)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestGetAndPost(t *testing.T) {
	server := newEchoServer(t)
	defer server.Close()

	c, err := New(server.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := Get[echo](context.Background(), c, "api", "prisoners", "a b/c")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Method != http.MethodGet || got.Path != "/api/prisoners/a%20b%2Fc" {
		t.Errorf("unexpected echo: %+v", got)
	}

	got, err = Post[echo](context.Background(), c, map[string]string{"name": "Amal"}, "api", "dyte", "join-meeting")
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got.Method != http.MethodPost || got.Name != "Amal" {
		t.Errorf("unexpected echo: %+v", got)
	}
}

func TestDo_StatusErrors(t *testing.T) {
	server := newEchoServer(t)
	defer server.Close()
	c, _ := New(server.URL, time.Second)

	type envelope struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}

	res, err := Get[envelope](context.Background(), c, "missing")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if res == nil || res.Message != "not found" {
		t.Errorf("expected decoded envelope alongside status error, got %+v", res)
	}

	res, err = Get[envelope](context.Background(), c, "broken")
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
	if res != nil {
		t.Errorf("expected no result for non-JSON body, got %+v", res)
	}
	if !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("error should carry the body: %v", err)
	}

	if _, err := Get[envelope](context.Background(), c, "garbage"); err == nil || !strings.Contains(err.Error(), "could not unmarshal") {
		t.Errorf("expected unmarshal error, got %v", err)
	}
}

func TestDo_TransportError(t *testing.T) {
	server := newEchoServer(t)
	c, _ := New(server.URL, time.Second)
	server.Close()

	if _, err := Get[echo](context.Background(), c, "x"); err == nil || !strings.Contains(err.Error(), "could not send request") {
		t.Errorf("expected transport error, got %v", err)
	}
}
