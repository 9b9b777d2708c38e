package automation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Profiles maps accounts to persistent browser profile directories so the
// portal keeps recognizing a trusted device between logins.
type Profiles struct {
	root string
}

func NewProfiles(root string) *Profiles {
	if root == "" {
		root = "data/profiles"
	}
	return &Profiles{root: root}
}

// Dir returns the profile directory of an account.
func (p *Profiles) Dir(account string) string {
	return filepath.Join(p.root, sanitize(account))
}

// Ensure creates the profile directory if missing.
func (p *Profiles) Ensure(account string) (string, error) {
	dir := p.Dir(account)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir profile dir: %w", err)
	}
	return dir, nil
}

// Remove deletes the profile directory of an account.
func (p *Profiles) Remove(account string) error {
	if err := os.RemoveAll(p.Dir(account)); err != nil {
		return fmt.Errorf("remove profile dir: %w", err)
	}
	return nil
}

func sanitize(account string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		case r == '+':
			return 'p'
		default:
			return '_'
		}
	}, account)
	if s == "" {
		return "_"
	}
	return s
}
