package app

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func authedRequest(t *testing.T, service *Service, method, path string, body string) *http.Request {
	t.Helper()
	session, err := service.SignIn(context.Background(), "a@example.com", "hunter22")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	return req
}

func TestSnapshotGetReturns204BeforeFirstPush(t *testing.T) {
	service, _, _, _ := newTestService()
	handler := NewHTTPServer(service, "*", time.Second).Handler()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, authedRequest(t, service, http.MethodGet, "/api/snapshot", ""))
	if recorder.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", recorder.Code)
	}
}

func TestSnapshotRoutesRequireAuth(t *testing.T) {
	service, _, _, _ := newTestService()
	handler := NewHTTPServer(service, "*", time.Second).Handler()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", recorder.Code)
	}
}

func TestSnapshotPutThenGetRoundTrip(t *testing.T) {
	service, _, _, _ := newTestService()
	handler := NewHTTPServer(service, "*", time.Second).Handler()

	put := authedRequest(t, service, http.MethodPut, "/api/snapshot",
		`{"state": {"fastHistory": [], "settings": {"autoSync": true}}}`)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, put)
	if recorder.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), "lastModified") {
		t.Errorf("put response = %s", recorder.Body.String())
	}

	get := authedRequest(t, service, http.MethodGet, "/api/snapshot", "")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, get)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"fastHistory"`) {
		t.Errorf("get response = %s", recorder.Body.String())
	}
}

// The stream's first event tells a fresh account apart from a quiet one:
// "empty" when nothing was ever pushed, "snapshot" with the current value
// otherwise, and every accepted write afterwards arrives as a new event.
func TestSnapshotStreamFraming(t *testing.T) {
	service, _, _, _ := newTestService()
	server := httptest.NewServer(NewHTTPServer(service, "*", 50*time.Millisecond).Handler())
	defer server.Close()

	session, err := service.SignIn(context.Background(), "a@example.com", "hunter22")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/snapshot/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %s", got)
	}

	events := make(chan string, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event:") {
				events <- strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			}
		}
	}()

	waitEvent := func(want string) {
		t.Helper()
		select {
		case got := <-events:
			if got != want {
				t.Fatalf("event = %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q event", want)
		}
	}

	waitEvent("empty")

	if _, err := service.SaveSnapshot(context.Background(), "acct_1",
		[]byte(`{"fastHistory": [], "settings": {"autoSync": true}}`)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	waitEvent("snapshot")
}
