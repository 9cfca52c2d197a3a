package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestArchiveLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first := []byte(`{"skills":{"hydration":1},"lastWriteTimestamp":1700000000000}`)
	version, err := svc.Commit("acct-1", first, 1700000000000)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if version.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if version.LastModified != 1700000000000 {
		t.Errorf("lastModified = %d", version.LastModified)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "acct-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	second := []byte(`{"skills":{"hydration":2},"lastWriteTimestamp":1700000005000}`)
	if _, err := svc.Commit("acct-1", second, 1700000005000); err != nil {
		t.Fatalf("second Commit() error = %v", err)
	}

	history, err := svc.History("acct-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	// Newest first.
	if history[0].LastModified != 1700000005000 {
		t.Errorf("latest version = %+v", history[0])
	}

	state, got, err := svc.StateByHash("acct-1", version.Hash)
	if err != nil {
		t.Fatalf("StateByHash() error = %v", err)
	}
	if got.LastModified != 1700000000000 {
		t.Errorf("version lastModified = %d, want 1700000000000", got.LastModified)
	}
	var decoded struct {
		Skills map[string]int64 `json:"skills"`
	}
	if err := json.Unmarshal(state, &decoded); err != nil {
		t.Fatalf("decode archived state: %v", err)
	}
	if decoded.Skills["hydration"] != 1 {
		t.Errorf("archived state = %s", state)
	}
}

func TestHistoryForUnknownAccountIsEmpty(t *testing.T) {
	svc := New(t.TempDir())
	history, err := svc.History("nobody", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestConcurrentCommitsSerialize(t *testing.T) {
	svc := New(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			state := []byte(`{"skills":{}}`)
			if _, err := svc.Commit("acct-1", state, int64(1700000000000+n)); err != nil {
				t.Errorf("Commit() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History("acct-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 8 {
		t.Fatalf("history length = %d, want 8", len(history))
	}
}
