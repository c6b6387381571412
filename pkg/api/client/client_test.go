package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestLoginSendsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "pilot" || body["password"] != "secret-pass" {
			t.Errorf("unexpected body %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user":       map[string]any{"id": "u1", "username": "pilot"},
			"token":      "jwt-token",
			"session_id": "s1",
		})
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := cli.Login(context.Background(), "pilot", "secret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Token != "jwt-token" || resp.User.Username != "pilot" || resp.SessionID != "s1" {
		t.Fatalf("unexpected login response %+v", resp)
	}
}

func TestDeployConflictCarriesPipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"A session is already running.","pipeline_id":"77"}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	_, err := cli.Deploy(context.Background(), "tok", false)
	id, ok := NeedsConfirmation(err)
	if !ok || id != "77" {
		t.Fatalf("expected confirmation for pipeline 77, got %q %v (%v)", id, ok, err)
	}
}

func TestUnauthorizedCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Session expired","reason":"Session expired"}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	_, err := cli.Session(context.Background(), "tok")
	if !Unauthorized(err) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	apiErr := err.(APIError)
	if apiErr.Reason != "Session expired" || apiErr.RetryAfter != 12*time.Second {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	cli, err := New(" panel.local:4000/ ")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if cli.BaseURL() != "http://panel.local:4000" {
		t.Fatalf("unexpected base url %q", cli.BaseURL())
	}
}

func TestWatchDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "tok" || r.URL.Query().Get("tab_id") != "tab-1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"deployment_status","status":"deploying"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"deployment_status","status":"deployed"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []string
	err := cli.Watch(ctx, "tok", "tab-1", func(e Event) bool {
		seen = append(seen, e.Status)
		return e.Status != "deployed"
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(seen) != 2 || seen[0] != "deploying" || seen[1] != "deployed" {
		t.Fatalf("unexpected events %v", seen)
	}
}
