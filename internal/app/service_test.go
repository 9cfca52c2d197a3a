package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lurioneli/Sleep-Suivour/internal/archive"
	"github.com/lurioneli/Sleep-Suivour/internal/auth"
	"github.com/lurioneli/Sleep-Suivour/internal/config"
	"github.com/lurioneli/Sleep-Suivour/internal/fanout"
	"github.com/lurioneli/Sleep-Suivour/internal/search"
	"github.com/lurioneli/Sleep-Suivour/internal/store"
)

type fakeDataStore struct {
	accounts     map[string]store.Account
	snapshots    map[string]store.Snapshot
	refresh      map[string]string
	revoked      map[string]bool
	history      map[string][]store.HistoryEntry
	lastModified int64
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{
		accounts:  map[string]store.Account{},
		snapshots: map[string]store.Snapshot{},
		refresh:   map[string]string{},
		revoked:   map[string]bool{},
		history:   map[string][]store.HistoryEntry{},
	}
}

func (f *fakeDataStore) GetAccountByID(_ context.Context, id string) (store.Account, error) {
	account, ok := f.accounts[id]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (f *fakeDataStore) SaveSnapshot(_ context.Context, accountID string, state []byte) (int64, error) {
	next := time.Now().UnixMilli()
	if next <= f.lastModified {
		next = f.lastModified + 1
	}
	f.lastModified = next
	f.snapshots[accountID] = store.Snapshot{AccountID: accountID, State: state, LastModified: next}
	return next, nil
}

func (f *fakeDataStore) GetSnapshot(_ context.Context, accountID string) (store.Snapshot, error) {
	snapshot, ok := f.snapshots[accountID]
	if !ok {
		return store.Snapshot{}, store.ErrNotFound
	}
	return snapshot, nil
}

func (f *fakeDataStore) SaveRefreshSession(_ context.Context, tokenHash, accountID string, _ time.Time) error {
	f.refresh[tokenHash] = accountID
	return nil
}

func (f *fakeDataStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	accountID, ok := f.refresh[tokenHash]
	if !ok {
		return "", store.ErrNotFound
	}
	return accountID, nil
}

func (f *fakeDataStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeDataStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeDataStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

func (f *fakeDataStore) ReplaceHistoryEntries(_ context.Context, accountID string, entries []store.HistoryEntry) error {
	f.history[accountID] = entries
	return nil
}

func (f *fakeDataStore) Ping(context.Context) error { return nil }

type fakeAccounts struct {
	account store.Account
	err     error
}

func (f *fakeAccounts) SignUp(context.Context, string, string, string) (store.Account, error) {
	return f.account, f.err
}

func (f *fakeAccounts) SignIn(context.Context, string, string) (store.Account, error) {
	return f.account, f.err
}

type fakeArchive struct {
	commits []int64
}

func (f *fakeArchive) Commit(_ string, _ []byte, lastModified int64) (archive.Version, error) {
	f.commits = append(f.commits, lastModified)
	return archive.Version{Hash: "abc123", LastModified: lastModified}, nil
}

func (f *fakeArchive) History(string, int) ([]archive.Version, error) { return nil, nil }

func (f *fakeArchive) StateByHash(string, string) ([]byte, archive.Version, error) {
	return nil, archive.Version{}, errors.New("not found")
}

type fakeSearch struct {
	indexed []search.EntryRecord
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexEntries(entries []search.EntryRecord) {
	f.indexed = append(f.indexed, entries...)
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	}
}

func newTestService() (*Service, *fakeDataStore, *fakeArchive, *fakeSearch) {
	dataStore := newFakeDataStore()
	dataStore.accounts["acct_1"] = store.Account{ID: "acct_1", Email: "a@example.com"}
	archiveService := &fakeArchive{}
	searchService := &fakeSearch{}
	service := &Service{
		cfg:      testConfig(),
		store:    dataStore,
		sessions: dataStore,
		accounts: &fakeAccounts{account: dataStore.accounts["acct_1"]},
		hub:      fanout.NewMemoryHub(),
		archive:  archiveService,
		search:   searchService,
	}
	return service, dataStore, archiveService, searchService
}

func TestSignInIssuesValidTokenPair(t *testing.T) {
	service, _, _, _ := newTestService()
	ctx := context.Background()

	session, err := service.SignIn(ctx, "a@example.com", "hunter22")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("session missing tokens: %+v", session)
	}

	parsed, err := service.SessionFromToken(ctx, session.AccessToken)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if parsed.AccountID != "acct_1" || parsed.Email != "a@example.com" {
		t.Errorf("parsed session = %+v", parsed)
	}
}

func TestRefreshRotatesTokenPair(t *testing.T) {
	service, _, _, _ := newTestService()
	ctx := context.Background()

	session, err := service.SignIn(ctx, "a@example.com", "hunter22")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	rotated, err := service.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	// The presented token was revoked on use: a replay fails.
	if _, err := service.Refresh(ctx, session.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("replayed refresh err = %v, want ErrInvalidToken", err)
	}
	if _, err := service.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Errorf("rotated token should work: %v", err)
	}
}

func TestSignOutRevokesAccessToken(t *testing.T) {
	service, _, _, _ := newTestService()
	ctx := context.Background()

	session, err := service.SignIn(ctx, "a@example.com", "hunter22")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := service.SignOut(ctx, session, session.RefreshToken); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	if _, err := service.SessionFromToken(ctx, session.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("revoked token err = %v, want ErrInvalidToken", err)
	}
	if _, err := service.Refresh(ctx, session.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("revoked refresh err = %v, want ErrInvalidToken", err)
	}
}

func TestSaveSnapshotPublishesArchivesAndIndexes(t *testing.T) {
	service, dataStore, archiveService, searchService := newTestService()
	ctx := context.Background()

	updates, cancel, err := service.Subscribe(ctx, "acct_1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	state := []byte(`{
		"fastHistory": [{"id": "e1", "startTime": 1700000000000,
			"endTime": 1700003600000, "duration": 3600000, "goalHours": 16,
			"feeling": "fine", "note": "steady"}],
		"settings": {"autoSync": true}
	}`)
	lastModified, err := service.SaveSnapshot(ctx, "acct_1", state)
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if lastModified <= 0 {
		t.Errorf("lastModified = %d", lastModified)
	}

	select {
	case update := <-updates:
		if update.LastModified != lastModified {
			t.Errorf("published lastModified = %d, want %d", update.LastModified, lastModified)
		}
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}

	if len(archiveService.commits) != 1 || archiveService.commits[0] != lastModified {
		t.Errorf("archive commits = %v", archiveService.commits)
	}
	if len(searchService.indexed) != 1 || searchService.indexed[0].ID != "e1" {
		t.Errorf("indexed records = %+v", searchService.indexed)
	}
	if rows := dataStore.history["acct_1"]; len(rows) != 1 || rows[0].Kind != "fast" {
		t.Errorf("history projection = %+v", rows)
	}
}

func TestSaveSnapshotRejectsWrongShape(t *testing.T) {
	service, _, _, _ := newTestService()

	_, err := service.SaveSnapshot(context.Background(), "acct_1", json.RawMessage(`{"fastHistory": 42}`))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("err = %v, want DomainError", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %s", domainErr.Code)
	}
}
