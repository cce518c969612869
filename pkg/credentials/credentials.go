// Package credentials persists session artifacts in credentials.toml and
// caches the short-lived bearer credential derived from them.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/tether/pkg/dotdir"
)

const (
	credentialsFile = "credentials.toml"

	currentVersion = 0

	// DefaultProfile is the profile used when none is named.
	DefaultProfile = "default"
)

// Manager manages reading and writing credentials.toml in the .tether/ directory.
// Updates are serialized so a rotated session token and a renewed clearance
// written concurrently do not clobber each other.
type Manager struct {
	mu         sync.Mutex
	targetPath string
}

// NewManager creates a new credentials Manager. If override is non-empty it is
// used as the .tether/ directory; otherwise the standard dotdir resolution applies.
func NewManager(override string) (*Manager, error) {
	target, err := dotdir.NewManager().Target(override)
	if err != nil {
		return nil, err
	}

	return &Manager{targetPath: filepath.Join(target, credentialsFile)}, nil
}

// Load reads credentials.toml from the target directory.
// Returns an empty Credentials if the file does not exist.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Credentials{
				Version:  currentVersion,
				Profiles: make(map[string]Artifacts),
			}, nil
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	creds := &Credentials{}
	if err := toml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	if creds.Profiles == nil {
		creds.Profiles = make(map[string]Artifacts)
	}

	return creds, nil
}

// Save writes credentials to credentials.toml with 0600 permissions.
func (m *Manager) Save(creds *Credentials) error {
	if creds == nil {
		return errors.New("cannot save nil credentials")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(creds); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.WriteFile(m.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}

	return nil
}

// GetArtifacts returns the stored artifacts for a profile.
// Returns zero Artifacts if nothing is stored.
func (m *Manager) GetArtifacts(profile string) (Artifacts, error) {
	creds, err := m.Load()
	if err != nil {
		return Artifacts{}, err
	}

	return creds.Profiles[profile], nil
}

// SetArtifacts replaces the stored artifacts for a profile.
func (m *Manager) SetArtifacts(profile string, a Artifacts) error {
	return m.UpdateArtifacts(profile, func(cur *Artifacts) { *cur = a })
}

// UpdateArtifacts applies fn to the stored artifacts for a profile and
// persists the result.
func (m *Manager) UpdateArtifacts(profile string, fn func(*Artifacts)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	creds, err := m.Load()
	if err != nil {
		return err
	}

	a := creds.Profiles[profile]
	fn(&a)
	creds.Profiles[profile] = a

	return m.Save(creds)
}

// RemoveProfile deletes the stored artifacts for a profile.
func (m *Manager) RemoveProfile(profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	creds, err := m.Load()
	if err != nil {
		return err
	}

	delete(creds.Profiles, profile)

	return m.Save(creds)
}

// ListProfiles returns the names of profiles that have stored artifacts.
func (m *Manager) ListProfiles() ([]string, error) {
	creds, err := m.Load()
	if err != nil {
		return nil, err
	}

	profiles := make([]string, 0, len(creds.Profiles))
	for name := range creds.Profiles {
		profiles = append(profiles, name)
	}

	sort.Strings(profiles)

	return profiles, nil
}

// GetTarget returns the resolved path to the credentials file.
func (m *Manager) GetTarget() string {
	return m.targetPath
}
