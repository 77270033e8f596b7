package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned by TokenStore.Load when no token has been saved.
var ErrNoToken = errors.New("google calendar: no stored token")

// TokenStore persists OAuth tokens between runs.
type TokenStore interface {
	Load(ctx context.Context, account string) (*oauth2.Token, error)
	Save(ctx context.Context, account string, tok *oauth2.Token) error
}

// BadgerTokenStore keeps tokens as JSON in a badger database.
type BadgerTokenStore struct {
	db *badger.DB
}

var _ TokenStore = (*BadgerTokenStore)(nil)

// OpenTokenStore opens (or creates) a badger database in dir. An empty dir
// runs badger in memory, which is only useful for tests.
func OpenTokenStore(dir string) (*BadgerTokenStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(slogLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("google calendar: open token store: %w", err)
	}
	return &BadgerTokenStore{db: db}, nil
}

func tokenKey(account string) []byte { return []byte("oauth2/token/" + account) }

// Load returns the token saved for account or ErrNoToken.
func (s *BadgerTokenStore) Load(_ context.Context, account string) (*oauth2.Token, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey(account))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("google calendar: load token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("google calendar: decode token: %w", err)
	}
	return &tok, nil
}

// Save stores tok for account, replacing any previous token.
func (s *BadgerTokenStore) Save(_ context.Context, account string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("google calendar: encode token: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tokenKey(account), raw)
	}); err != nil {
		return fmt.Errorf("google calendar: save token: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BadgerTokenStore) Close() error { return s.db.Close() }

// slogLogger routes badger's warnings and errors to slog and drops the rest.
type slogLogger struct{}

func (slogLogger) Errorf(format string, args ...any) {
	slog.Error("badger: " + fmt.Sprintf(format, args...))
}

func (slogLogger) Warningf(format string, args ...any) {
	slog.Warn("badger: " + fmt.Sprintf(format, args...))
}

func (slogLogger) Infof(string, ...any)  {}
func (slogLogger) Debugf(string, ...any) {}
