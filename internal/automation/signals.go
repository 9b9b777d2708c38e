package automation

import (
	"context"
	"sync"
)

// Default page phrases of the seller portal.
var (
	DefaultRateLimitPhrases = []string{
		"Превышено количество запросов",
		"Запросить код повторно можно через",
	}
	DefaultInvalidCodePhrases = []string{
		"Неверный код",
	}
)

// SignalDetector classifies the page state after a submit.
type SignalDetector interface {
	RateLimited(ctx context.Context, h Handle) (bool, error)
	InvalidCode(ctx context.Context, h Handle) (bool, error)
}

// PhraseDetector matches known phrases against the page text. Phrases can be
// swapped at runtime.
type PhraseDetector struct {
	mu          sync.RWMutex
	rateLimit   []string
	invalidCode []string
}

// NewPhraseDetector builds a detector. Empty lists fall back to the defaults.
func NewPhraseDetector(rateLimit, invalidCode []string) *PhraseDetector {
	d := &PhraseDetector{}
	d.SetPhrases(rateLimit, invalidCode)
	return d
}

// SetPhrases replaces the phrase lists.
func (d *PhraseDetector) SetPhrases(rateLimit, invalidCode []string) {
	if len(rateLimit) == 0 {
		rateLimit = DefaultRateLimitPhrases
	}
	if len(invalidCode) == 0 {
		invalidCode = DefaultInvalidCodePhrases
	}
	d.mu.Lock()
	d.rateLimit = append([]string(nil), rateLimit...)
	d.invalidCode = append([]string(nil), invalidCode...)
	d.mu.Unlock()
}

func (d *PhraseDetector) RateLimited(ctx context.Context, h Handle) (bool, error) {
	d.mu.RLock()
	phrases := d.rateLimit
	d.mu.RUnlock()
	return anyPhrase(ctx, h, phrases)
}

func (d *PhraseDetector) InvalidCode(ctx context.Context, h Handle) (bool, error) {
	d.mu.RLock()
	phrases := d.invalidCode
	d.mu.RUnlock()
	return anyPhrase(ctx, h, phrases)
}

func anyPhrase(ctx context.Context, h Handle, phrases []string) (bool, error) {
	for _, p := range phrases {
		found, err := h.PageContains(ctx, p)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
