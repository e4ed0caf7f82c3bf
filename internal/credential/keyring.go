package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "smsinbox"

const (
	keyToken  = "token"
	keyUserID = "user_id"
)

// ErrNotFound is returned when the profile has no stored credential.
var ErrNotFound = errors.New("credential not found")

// Credentials is what the daemon needs to talk to the backend.
type Credentials struct {
	Token  string
	UserID string
}

// Store keeps one profile's credentials in a keyring. The values are cached
// after the first read.
type Store struct {
	ring    keyring.Keyring
	profile string

	mu     sync.RWMutex
	cached *Credentials
}

// Open returns the system keyring, falling back to an encrypted file under fileDir.
func Open(fileDir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("smsinbox-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// NewStore scopes ring to profile.
func NewStore(ring keyring.Keyring, profile string) *Store {
	return &Store{ring: ring, profile: profile}
}

func (s *Store) key(name string) string {
	return s.profile + "/" + name
}

// Load reads the profile's credentials. ErrNotFound means the user has not logged in.
func (s *Store) Load() (*Credentials, error) {
	s.mu.RLock()
	if s.cached != nil {
		c := *s.cached
		s.mu.RUnlock()
		return &c, nil
	}
	s.mu.RUnlock()

	token, err := s.get(keyToken)
	if err != nil {
		return nil, err
	}
	userID, err := s.get(keyUserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	c := &Credentials{Token: token, UserID: userID}
	s.mu.Lock()
	s.cached = c
	s.mu.Unlock()
	out := *c
	return &out, nil
}

// Save stores the profile's credentials, replacing previous ones.
func (s *Store) Save(c Credentials) error {
	if err := s.set(keyToken, c.Token); err != nil {
		return err
	}
	if err := s.set(keyUserID, c.UserID); err != nil {
		return err
	}
	s.mu.Lock()
	s.cached = &c
	s.mu.Unlock()
	return nil
}

// Clear removes the profile's credentials. Missing entries are not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
	for _, name := range []string{keyToken, keyUserID} {
		if err := s.ring.Remove(s.key(name)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", name, err)
		}
	}
	return nil
}

// UserID returns the stored user id, or "" when logged out.
func (s *Store) UserID() string {
	c, err := s.Load()
	if err != nil {
		return ""
	}
	return c.UserID
}

func (s *Store) get(name string) (string, error) {
	item, err := s.ring.Get(s.key(name))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", name, err)
	}
	return string(item.Data), nil
}

func (s *Store) set(name, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   s.key(name),
		Data:  []byte(value),
		Label: serviceName + " " + s.profile + " " + name,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", name, err)
	}
	return nil
}
