package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the set-valued trading policy knobs that are awkward to
// express as environment variables. Loaded from a YAML file.
type Policy struct {
	AllowedTickers       []string          `yaml:"allowed_tickers"`
	BlackoutWindows      []BlackoutWindow  `yaml:"blackout_windows"`
	MaxConcurrentPerKind map[string]int    `yaml:"max_concurrent_per_kind"`
}

// BlackoutWindow blocks new structures on one underlying for a date range,
// typically around earnings. Bounds are inclusive.
type BlackoutWindow struct {
	Symbol string    `yaml:"symbol"`
	From   time.Time `yaml:"from"`
	To     time.Time `yaml:"to"`
}

// Contains reports whether t falls inside the window.
func (w BlackoutWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// LoadPolicy reads and validates a YAML policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	p := &Policy{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// Validate checks internal consistency of the policy.
func (p *Policy) Validate() error {
	if len(p.AllowedTickers) == 0 {
		return fmt.Errorf("allowed_tickers must not be empty")
	}
	for i := range p.AllowedTickers {
		p.AllowedTickers[i] = strings.ToUpper(strings.TrimSpace(p.AllowedTickers[i]))
		if p.AllowedTickers[i] == "" {
			return fmt.Errorf("allowed_tickers contains an empty entry")
		}
	}
	for _, w := range p.BlackoutWindows {
		if w.Symbol == "" {
			return fmt.Errorf("blackout window missing symbol")
		}
		if w.To.Before(w.From) {
			return fmt.Errorf("blackout window for %s ends before it starts", w.Symbol)
		}
	}
	for kind, n := range p.MaxConcurrentPerKind {
		if n < 0 {
			return fmt.Errorf("max_concurrent_per_kind[%s] cannot be negative", kind)
		}
	}
	return nil
}

// TickerAllowed reports whether the underlying is on the allow-list.
func (p *Policy) TickerAllowed(underlying string) bool {
	u := strings.ToUpper(underlying)
	for _, t := range p.AllowedTickers {
		if t == u {
			return true
		}
	}
	return false
}

// InBlackout reports whether the underlying is inside a blackout window at t.
func (p *Policy) InBlackout(underlying string, t time.Time) bool {
	u := strings.ToUpper(underlying)
	for _, w := range p.BlackoutWindows {
		if strings.ToUpper(w.Symbol) == u && w.Contains(t) {
			return true
		}
	}
	return false
}

// MaxConcurrent returns the concurrent-structure limit for a strategy kind.
// Kinds absent from the policy default to one instance.
func (p *Policy) MaxConcurrent(kind string) int {
	if n, ok := p.MaxConcurrentPerKind[kind]; ok {
		return n
	}
	return 1
}
