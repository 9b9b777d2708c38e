package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Signals are the page phrases that classify portal responses.
type Signals struct {
	RateLimit   []string `yaml:"rate_limit"`
	InvalidCode []string `yaml:"invalid_code"`
}

func LoadSignals(path string) (*Signals, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Signals
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &s, nil
}

// WatchSignals reloads the signals file on change and calls onUpdate with the
// latest phrases. It performs an initial load before entering the watch loop.
func WatchSignals(ctx context.Context, path string, interval time.Duration, onUpdate func(*Signals)) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s, err := LoadSignals(path)
	if err != nil {
		return err
	}
	onUpdate(s)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil || !info.ModTime().After(lastMod) {
					continue
				}
				s, err := LoadSignals(path)
				if err != nil {
					continue
				}
				lastMod = info.ModTime()
				onUpdate(s)
			}
		}
	}()
	return nil
}
