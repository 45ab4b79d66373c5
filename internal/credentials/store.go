// Package credentials persists the broker login between runs.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/deploydash/common/messaging"
)

// ErrNotFound is returned when no credentials have been saved.
var ErrNotFound = errors.New("no saved credentials")

// File is the on-disk document.
type File struct {
	Host        string `yaml:"host"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	AutoConnect bool   `yaml:"auto_connect"`
}

// Credentials returns the broker credentials held in f.
func (f File) Credentials() messaging.Credentials {
	return messaging.Credentials{Host: f.Host, Username: f.Username, Password: f.Password}
}

// Store reads and writes a credentials File at a fixed path.
type Store struct {
	path string
}

// DefaultPath returns $HOME/.deploydash/credentials.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".deploydash", "credentials.yaml"), nil
}

// NewStore returns a Store at path, or at DefaultPath when path is empty.
func NewStore(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &Store{path: path}, nil
}

// Path returns the file location.
func (s *Store) Path() string { return s.path }

// Load reads the saved file.
func (s *Store) Load() (*File, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return &f, nil
}

// Save writes f, readable only by the owner.
func (s *Store) Save(f *File) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// SaveCredentials stores creds, keeping the current auto-connect flag.
func (s *Store) SaveCredentials(creds messaging.Credentials) error {
	f, err := s.Load()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if f == nil {
		f = &File{}
	}
	f.Host = creds.Host
	f.Username = creds.Username
	f.Password = creds.Password
	return s.Save(f)
}

// SetAutoConnect updates the auto-connect flag. It does nothing when no
// credentials are saved.
func (s *Store) SetAutoConnect(on bool) error {
	f, err := s.Load()
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.AutoConnect == on {
		return nil
	}
	f.AutoConnect = on
	return s.Save(f)
}

// Remove deletes the saved file.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
