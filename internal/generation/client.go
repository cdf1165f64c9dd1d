package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// RetryBuffer is added to the server-suggested delay before retrying.
	RetryBuffer = time.Second
	// MaxRetryWait caps the wait on a rate-limited credential.
	MaxRetryWait = 60 * time.Second
)

// Credential is one API key and its live backend. Only the masked id is ever logged.
type Credential struct {
	ID      string
	backend Backend

	lastUsed time.Time
	uses     int
}

// NewCredential wraps backend under the masked form of apiKey.
func NewCredential(apiKey string, backend Backend) *Credential {
	return &Credential{ID: MaskKey(apiKey), backend: backend}
}

// MaskKey keeps the last four characters of key.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "…" + strings.Repeat("*", len(key))
	}
	return "…" + key[len(key)-4:]
}

// pool is the ordered credential list of one category with its rotation cursor.
type pool struct {
	mu     sync.Mutex
	creds  []*Credential
	cursor int
}

// next returns this call's attempt order and advances the cursor by one.
func (p *pool) next() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	order := rotationOrder(p.cursor, len(p.creds))
	p.cursor = (p.cursor + 1) % max(len(p.creds), 1)
	return order
}

func (p *pool) markUsed(c *Credential, at time.Time) {
	p.mu.Lock()
	c.lastUsed = at
	c.uses++
	p.mu.Unlock()
}

// rotationOrder lists indexes 0..n-1 starting at cursor mod n and wrapping.
func rotationOrder(cursor, n int) []int {
	if n <= 0 {
		return nil
	}
	start := ((cursor % n) + n) % n
	order := make([]int, n)
	for i := range order {
		order[i] = (start + i) % n
	}
	return order
}

// Result is a successful generation.
type Result struct {
	Text         string
	CredentialID string
}

// Client routes prompts to the credential pool of a category, rotating past
// failing credentials and waiting out rate limits.
type Client struct {
	pools map[string]*pool
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewClient builds a client from credentials per category.
func NewClient(creds map[string][]*Credential) *Client {
	c := &Client{
		pools: make(map[string]*pool, len(creds)),
		sleep: sleepContext,
		now:   time.Now,
	}
	for cat, list := range creds {
		c.pools[strings.ToLower(cat)] = &pool{creds: list}
	}
	return c
}

// NewGeminiClient creates one Gemini backend per key.
func NewGeminiClient(ctx context.Context, keys map[string][]string, baseURL, model string, timeout time.Duration) (*Client, error) {
	creds := make(map[string][]*Credential, len(keys))
	for cat, list := range keys {
		for _, key := range list {
			backend, err := NewGeminiBackend(ctx, baseURL, model, key, timeout)
			if err != nil {
				return nil, fmt.Errorf("credential %s of %q: %w", MaskKey(key), cat, err)
			}
			creds[cat] = append(creds[cat], NewCredential(key, backend))
		}
		if len(list) > 0 {
			log.Info().Str("category", cat).Int("credentials", len(list)).Msg("Generation pool initialized")
		}
	}
	return NewClient(creds), nil
}

// Send generates text for prompt with the pool of category. Each credential is
// attempted once in rotation order; a rate-limited credential is retried once
// after the suggested delay. Returns ErrNoCredentials or ErrPoolExhausted on failure.
func (c *Client) Send(ctx context.Context, prompt, category string) (Result, error) {
	p, ok := c.pools[strings.ToLower(category)]
	if !ok || len(p.creds) == 0 {
		return Result{}, fmt.Errorf("%w: %q", ErrNoCredentials, category)
	}

	logger := log.With().Str("category", category).Logger()
	var lastErr error

	for _, idx := range p.next() {
		cred := p.creds[idx]

		text, err := c.attempt(ctx, p, cred, prompt)
		if err == nil {
			logger.Info().Str("credential", cred.ID).Msg("Generation succeeded")
			return Result{Text: text, CredentialID: cred.ID}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		if delay, limited := RetryDelay(err); limited {
			wait := min(delay+RetryBuffer, MaxRetryWait)
			logger.Warn().Str("credential", cred.ID).Dur("wait", wait).Msg("Rate limited, retrying same credential")
			if err := c.sleep(ctx, wait); err != nil {
				return Result{}, err
			}

			text, err = c.attempt(ctx, p, cred, prompt)
			if err == nil {
				logger.Info().Str("credential", cred.ID).Msg("Generation succeeded after rate-limit retry")
				return Result{Text: text, CredentialID: cred.ID}, nil
			}
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
		}

		logger.Error().Err(err).Str("credential", cred.ID).Msg("Generation failed, rotating to next credential")
		lastErr = err
	}

	return Result{}, fmt.Errorf("%w for %q: %w", ErrPoolExhausted, category, lastErr)
}

func (c *Client) attempt(ctx context.Context, p *pool, cred *Credential, prompt string) (string, error) {
	p.markUsed(cred, c.now())
	text, err := cred.backend.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// CredentialStatus describes one credential for reporting.
type CredentialStatus struct {
	ID       string    `json:"id"`
	LastUsed time.Time `json:"last_used,omitzero"`
	Uses     int       `json:"uses"`
}

// PoolStatus describes one category pool.
type PoolStatus struct {
	Category    string             `json:"category"`
	Available   int                `json:"available"`
	Credentials []CredentialStatus `json:"credentials"`
}

// Status returns every pool sorted by category.
func (c *Client) Status() []PoolStatus {
	out := make([]PoolStatus, 0, len(c.pools))
	for cat, p := range c.pools {
		p.mu.Lock()
		ps := PoolStatus{Category: cat, Available: len(p.creds)}
		for _, cred := range p.creds {
			ps.Credentials = append(ps.Credentials, CredentialStatus{ID: cred.ID, LastUsed: cred.lastUsed, Uses: cred.uses})
		}
		p.mu.Unlock()
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsConfigError reports whether err comes from missing credentials rather than a backend failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoCredentials)
}
