// Package memstore is an in-memory [adminauth.CredentialStore] for tests,
// demos and single-process deployments.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/adminauth"
	"github.com/google/uuid"
)

// Store keeps accounts in a map guarded by a RWMutex. Returned accounts are
// copies.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*adminauth.Account
	byEmail map[string]string
	now     func() time.Time
}

var (
	_ adminauth.CredentialStore = (*Store)(nil)
	_ adminauth.AccountCreator  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		byID:    make(map[string]*adminauth.Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func clone(a *adminauth.Account) *adminauth.Account {
	out := *a
	if a.TOTPSecret != nil {
		out.TOTPSecret = append([]byte(nil), a.TOTPSecret...)
	}
	return &out
}

// CreateAccount stores account, assigning a UUID when ID is empty.
func (s *Store) CreateAccount(_ context.Context, account adminauth.Account) (*adminauth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(account.Email)
	if _, ok := s.byEmail[k]; ok {
		return nil, adminauth.ErrEmailInUse
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if _, ok := s.byID[account.ID]; ok {
		return nil, adminauth.ErrConflict
	}
	now := s.now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	account.Email = k

	stored := clone(&account)
	s.byID[stored.ID] = stored
	s.byEmail[k] = stored.ID
	return clone(stored), nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (*adminauth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[key(email)]
	if !ok {
		return nil, adminauth.ErrAccountNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Store) GetAccountByID(_ context.Context, accountID string) (*adminauth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[accountID]
	if !ok {
		return nil, adminauth.ErrAccountNotFound
	}
	return clone(a), nil
}

func (s *Store) EmailInUse(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byEmail[key(email)]
	return ok, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, accountID, hash string) error {
	return s.update(accountID, func(a *adminauth.Account) error {
		a.PasswordHash = hash
		return nil
	})
}

// UpdateEmail moves the account to newEmail; a taken address yields
// [adminauth.ErrEmailInUse].
func (s *Store) UpdateEmail(_ context.Context, accountID, newEmail string) error {
	k := key(newEmail)
	return s.update(accountID, func(a *adminauth.Account) error {
		if owner, ok := s.byEmail[k]; ok && owner != accountID {
			return adminauth.ErrEmailInUse
		}
		delete(s.byEmail, key(a.Email))
		s.byEmail[k] = accountID
		a.Email = k
		return nil
	})
}

func (s *Store) SetTOTP(_ context.Context, accountID string, secret []byte, enabled bool) error {
	return s.update(accountID, func(a *adminauth.Account) error {
		a.TOTPSecret = append([]byte(nil), secret...)
		a.TOTPEnabled = enabled
		return nil
	})
}

func (s *Store) ClearTOTP(_ context.Context, accountID string) error {
	return s.update(accountID, func(a *adminauth.Account) error {
		a.TOTPSecret = nil
		a.TOTPEnabled = false
		return nil
	})
}

// SetStatus changes the lifecycle state of an account.
func (s *Store) SetStatus(accountID string, status adminauth.AccountStatus) error {
	return s.update(accountID, func(a *adminauth.Account) error {
		a.Status = status
		return nil
	})
}

func (s *Store) update(accountID string, fn func(*adminauth.Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[accountID]
	if !ok {
		return adminauth.ErrAccountNotFound
	}
	if err := fn(a); err != nil {
		return err
	}
	a.UpdatedAt = s.now().UTC()
	return nil
}
