package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/lurioneli/Sleep-Suivour/internal/account"
	"github.com/lurioneli/Sleep-Suivour/internal/archive"
	"github.com/lurioneli/Sleep-Suivour/internal/auth"
	"github.com/lurioneli/Sleep-Suivour/internal/config"
	"github.com/lurioneli/Sleep-Suivour/internal/document"
	"github.com/lurioneli/Sleep-Suivour/internal/fanout"
	"github.com/lurioneli/Sleep-Suivour/internal/search"
	"github.com/lurioneli/Sleep-Suivour/internal/session"
	"github.com/lurioneli/Sleep-Suivour/internal/store"
	"github.com/lurioneli/Sleep-Suivour/internal/util"
)

// Session is an authenticated caller: the parsed access token plus, right
// after sign-in or refresh, the freshly minted token pair.
type Session struct {
	AccountID    string
	Email        string
	AccessToken  string
	RefreshToken string
	JTI          string
	ExpiresAt    time.Time
}

const versionHistoryLimit = 50

type dataStore interface {
	GetAccountByID(context.Context, string) (store.Account, error)
	SaveSnapshot(context.Context, string, []byte) (int64, error)
	GetSnapshot(context.Context, string) (store.Snapshot, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ReplaceHistoryEntries(context.Context, string, []store.HistoryEntry) error
	Ping(ctx context.Context) error
}

// refreshStore is the subset of dataStore that Redis can take over when
// configured; refresh tokens are ephemeral and fit its TTL model.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, accountID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type accountService interface {
	SignUp(ctx context.Context, email, password, displayName string) (store.Account, error)
	SignIn(ctx context.Context, email, password string) (store.Account, error)
}

type archiveService interface {
	Commit(accountID string, state []byte, lastModified int64) (archive.Version, error)
	History(accountID string, limit int) ([]archive.Version, error)
	StateByHash(accountID, hash string) ([]byte, archive.Version, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexEntries(entries []search.EntryRecord)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	accounts accountService
	hub      fanout.Hub
	archive  archiveService
	search   searchService
}

// New builds a service that keeps refresh sessions in Postgres.
func New(cfg config.Config, dataStore *store.PostgresStore, accounts *account.Service, hub fanout.Hub, archiveService *archive.Service, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		accounts: accounts,
		hub:      hub,
		archive:  archiveService,
		search:   searchService,
	}
}

// NewWithSessionStore is New with refresh sessions held in Redis instead.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, accounts *account.Service, hub fanout.Hub, archiveService *archive.Service, searchService *search.Service) *Service {
	service := New(cfg, dataStore, accounts, hub, archiveService, searchService)
	service.sessions = sessions
	return service
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	acct, err := s.accounts.SignUp(ctx, email, password, displayName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, acct)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	acct, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, acct)
}

// Refresh rotates the token pair: the presented refresh token is revoked and
// a fresh pair issued, so a stolen token works at most once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	accountID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	acct, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, acct)
}

func (s *Service) issueSession(ctx context.Context, acct store.Account) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   acct.ID,
		Email: acct.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), acct.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		AccountID:    acct.ID,
		Email:        acct.Email,
		AccessToken:  token,
		RefreshToken: refresh,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token. Claims are self-contained; only
// the revocation check touches a store.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		AccountID:   claims.Sub,
		Email:       claims.Email,
		AccessToken: token,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) SignOut(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// SaveSnapshot accepts a full-document write: the state is shape-checked,
// stored under a server-assigned monotonic timestamp, archived, projected
// into the history index, and fanned out to the account's live streams.
func (s *Service) SaveSnapshot(ctx context.Context, accountID string, state json.RawMessage) (int64, error) {
	if err := document.ValidateShape(state); err != nil {
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "state is not a valid snapshot document", nil)
	}

	lastModified, err := s.store.SaveSnapshot(ctx, accountID, state)
	if err != nil {
		return 0, err
	}

	if _, err := s.archive.Commit(accountID, state, lastModified); err != nil {
		log.Printf("snapshot archive commit failed for %s: %v", accountID, err)
	}
	s.indexSnapshot(ctx, accountID, state)

	if err := s.hub.Publish(ctx, accountID, fanout.Update{State: state, LastModified: lastModified}); err != nil {
		log.Printf("snapshot publish failed for %s: %v", accountID, err)
	}
	return lastModified, nil
}

// indexSnapshot re-projects the snapshot's history entries into the search
// stores. The snapshot stays authoritative: the projection is rebuilt
// wholesale on every write, never patched.
func (s *Service) indexSnapshot(ctx context.Context, accountID string, state json.RawMessage) {
	doc, err := document.Decode(state, document.Now())
	if err != nil {
		return
	}

	var rows []store.HistoryEntry
	var records []search.EntryRecord
	for _, kind := range []document.Kind{document.KindFast, document.KindSleep} {
		for _, entry := range doc.History(kind) {
			rows = append(rows, store.HistoryEntry{
				ID:         entry.ID,
				AccountID:  accountID,
				Kind:       string(kind),
				Feeling:    entry.Feeling,
				Note:       entry.Note,
				StartedAt:  int64(entry.StartTime),
				EndedAt:    int64(entry.EndTime),
				DurationMs: entry.Duration,
			})
			records = append(records, search.EntryRecord{
				ID:         entry.ID,
				AccountID:  accountID,
				Kind:       string(kind),
				Feeling:    entry.Feeling,
				Note:       entry.Note,
				StartedAt:  int64(entry.StartTime),
				EndedAt:    int64(entry.EndTime),
				DurationMs: entry.Duration,
			})
		}
	}

	if err := s.store.ReplaceHistoryEntries(ctx, accountID, rows); err != nil {
		log.Printf("history projection failed for %s: %v", accountID, err)
	}
	s.search.IndexEntries(records)
}

// Snapshot returns the account's current state, or store.ErrNotFound when
// the account has never pushed.
func (s *Service) Snapshot(ctx context.Context, accountID string) (store.Snapshot, error) {
	return s.store.GetSnapshot(ctx, accountID)
}

// Subscribe attaches to the account's live update feed.
func (s *Service) Subscribe(ctx context.Context, accountID string) (<-chan fanout.Update, func(), error) {
	return s.hub.Subscribe(ctx, accountID)
}

func (s *Service) Versions(accountID string) ([]archive.Version, error) {
	return s.archive.History(accountID, versionHistoryLimit)
}

func (s *Service) VersionState(accountID, hash string) ([]byte, int64, error) {
	state, version, err := s.archive.StateByHash(accountID, hash)
	if err != nil {
		return nil, 0, err
	}
	return state, version.LastModified, nil
}

func (s *Service) Search(accountID, query string, limit int) search.Response {
	return s.search.Search(search.Query{AccountID: accountID, Text: query, Limit: limit})
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
