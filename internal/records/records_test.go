package records

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func setupMockServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/prisoners/enrolled-faces", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":[{"id":"p1","name":"Karim","faceDescriptor":[0.1,0.2]},{"id":"p2","name":"Nadia","faceDescriptor":"{\"0\":0.3}"}]}`))
	})
	mux.HandleFunc("/api/prisoners/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.PathValue("id") {
		case "p1":
			w.Write([]byte(`{"success":true,"data":{"name":"Karim","faceDescriptor":[0.1,0.2]}}`))
		case "p2":
			w.Write([]byte(`{"success":true,"data":{"name":"Nadia","faceDescriptor":null}}`))
		case "p3":
			w.Write([]byte(`{"success":true,"data":{"name":"Omar"}}`))
		case "refused":
			w.Write([]byte(`{"success":false}`))
		case "crash":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`<html>oops</html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"message":"Prisoner not found"}`))
		}
	})
	return httptest.NewServer(mux)
}

func TestGetParticipant(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	tests := []struct {
		id           string
		wantName     string
		wantEnrolled bool
	}{
		{"p1", "Karim", true},
		{"p2", "Nadia", false},
		{"p3", "Omar", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			p, err := client.GetParticipant(context.Background(), tt.id)
			if err != nil {
				t.Fatalf("GetParticipant() error = %v", err)
			}
			if p.Name != tt.wantName || p.ID != tt.id {
				t.Errorf("unexpected participant %+v", p)
			}
			if p.Enrolled() != tt.wantEnrolled {
				t.Errorf("Enrolled() = %v, want %v", p.Enrolled(), tt.wantEnrolled)
			}
		})
	}
}

func TestGetParticipant_Errors(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()
	client, _ := NewClient(server.URL)

	tests := []struct {
		id         string
		wantAPI    bool
		wantStatus int
		wantMsg    string
	}{
		{"missing", true, http.StatusNotFound, "Prisoner not found"},
		{"refused", true, 0, "request was not successful"},
		{"crash", false, 0, "status 500"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := client.GetParticipant(context.Background(), tt.id)
			if err == nil {
				t.Fatal("expected error")
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) != tt.wantAPI {
				t.Fatalf("APIError match = %v, want %v (err %v)", !tt.wantAPI, tt.wantAPI, err)
			}
			if tt.wantAPI && apiErr.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", apiErr.Status, tt.wantStatus)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should contain %q", err, tt.wantMsg)
			}
		})
	}

	if _, err := client.GetParticipant(context.Background(), "  "); err == nil {
		t.Error("expected error for blank id")
	}
}

func TestGetEnrolledFaces(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()
	client, _ := NewClient(server.URL)

	faces, err := client.GetEnrolledFaces(context.Background())
	if err != nil {
		t.Fatalf("GetEnrolledFaces() error = %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	for _, f := range faces {
		if !f.Enrolled() {
			t.Errorf("%s should be enrolled", f.Name)
		}
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	if _, err := NewClient("not a url"); err == nil {
		t.Error("expected error")
	}
}
