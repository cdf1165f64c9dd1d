package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend replays results in order and records every call.
type scriptedBackend struct {
	name    string
	results []error
	calls   *[]string
}

func (b *scriptedBackend) Generate(ctx context.Context, prompt string) (string, error) {
	*b.calls = append(*b.calls, b.name)
	if len(b.results) == 0 {
		return `{"ok":true}`, nil
	}
	err := b.results[0]
	b.results = b.results[1:]
	if err != nil {
		return "", err
	}
	return `{"ok":true}`, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newTestClient(calls *[]string, results map[string][]error, names ...string) (*Client, *sleepRecorder) {
	var creds []*Credential
	for _, n := range names {
		creds = append(creds, NewCredential("key-"+n, &scriptedBackend{name: n, results: results[n], calls: calls}))
	}
	c := NewClient(map[string][]*Credential{"movies": creds})
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func rateLimited(delay time.Duration) error {
	return &APIError{StatusCode: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", RetryAfter: delay}
}

func TestRotationOrder(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, rotationOrder(0, 3))
	assert.Equal(t, []int{2, 0, 1}, rotationOrder(2, 3))
	assert.Equal(t, []int{1, 2, 0}, rotationOrder(4, 3))
	assert.Nil(t, rotationOrder(5, 0))
}

func TestSendRoundRobinFairness(t *testing.T) {
	var calls []string
	c, _ := newTestClient(&calls, nil, "k1", "k2", "k3")

	for i := 0; i < 3; i++ {
		res, err := c.Send(context.Background(), "p", "movies")
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, res.Text)
	}
	assert.Equal(t, []string{"k1", "k2", "k3"}, calls)
}

func TestSendFairnessUnevenCalls(t *testing.T) {
	var calls []string
	c, _ := newTestClient(&calls, nil, "k1", "k2", "k3")

	for i := 0; i < 7; i++ {
		_, err := c.Send(context.Background(), "p", "movies")
		require.NoError(t, err)
	}

	uses := map[string]int{}
	for _, name := range calls {
		uses[name]++
	}
	require.Len(t, uses, 3)
	for name, n := range uses {
		assert.True(t, n == 2 || n == 3, "%s used %d times", name, n)
	}
	assert.Equal(t, []string{"k1", "k2", "k3", "k1", "k2", "k3", "k1"}, calls)
}

func TestSendRotatesOnFailure(t *testing.T) {
	var calls []string
	c, rec := newTestClient(&calls, map[string][]error{
		"k1": {errors.New("boom")},
	}, "k1", "k2")

	res, err := c.Send(context.Background(), "p", "movies")
	require.NoError(t, err)
	assert.Equal(t, MaskKey("key-k2"), res.CredentialID)
	assert.Equal(t, []string{"k1", "k2"}, calls)
	assert.Empty(t, rec.waits)
}

func TestSendRateLimitRetriesSameCredential(t *testing.T) {
	var calls []string
	c, rec := newTestClient(&calls, map[string][]error{
		"k1": {rateLimited(5 * time.Second)},
	}, "k1", "k2")

	res, err := c.Send(context.Background(), "p", "movies")
	require.NoError(t, err)
	assert.Equal(t, MaskKey("key-k1"), res.CredentialID)
	assert.Equal(t, []string{"k1", "k1"}, calls)
	require.Len(t, rec.waits, 1)
	assert.GreaterOrEqual(t, rec.waits[0], 5*time.Second)
	assert.LessOrEqual(t, rec.waits[0], 7*time.Second)
}

func TestSendRateLimitWaitIsCapped(t *testing.T) {
	var calls []string
	c, rec := newTestClient(&calls, map[string][]error{
		"k1": {fmt.Errorf("quota: retry_delay { seconds: 300 }")},
	}, "k1")

	_, err := c.Send(context.Background(), "p", "movies")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{MaxRetryWait}, rec.waits)
}

func TestSendExhausted(t *testing.T) {
	var calls []string
	c, rec := newTestClient(&calls, map[string][]error{
		"k1": {rateLimited(2 * time.Second), errors.New("still limited")},
		"k2": {errors.New("bad key")},
	}, "k1", "k2")

	_, err := c.Send(context.Background(), "p", "movies")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, []string{"k1", "k1", "k2"}, calls)
	assert.Len(t, rec.waits, 1)
}

func TestSendUnknownCategory(t *testing.T) {
	var calls []string
	c, _ := newTestClient(&calls, nil, "k1")

	_, err := c.Send(context.Background(), "p", "games")
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.True(t, IsConfigError(err))

	empty := NewClient(map[string][]*Credential{"series": nil})
	_, err = empty.Send(context.Background(), "p", "series")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestSendCategoryIsCaseInsensitive(t *testing.T) {
	var calls []string
	c, _ := newTestClient(&calls, nil, "k1")
	_, err := c.Send(context.Background(), "p", "Movies")
	assert.NoError(t, err)
}

func TestStatusTracksUsage(t *testing.T) {
	var calls []string
	c, _ := newTestClient(&calls, nil, "k1", "k2")
	_, err := c.Send(context.Background(), "p", "movies")
	require.NoError(t, err)

	status := c.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "movies", status[0].Category)
	assert.Equal(t, 2, status[0].Available)
	assert.Equal(t, 1, status[0].Credentials[0].Uses)
	assert.False(t, status[0].Credentials[0].LastUsed.IsZero())
	assert.Zero(t, status[0].Credentials[1].Uses)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "…wxyz", MaskKey("AIzaSyabcdwxyz"))
	assert.Equal(t, "…***", MaskKey("abc"))
}

func TestRetryDelay(t *testing.T) {
	d, ok := RetryDelay(rateLimited(3 * time.Second))
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = RetryDelay(&APIError{StatusCode: http.StatusInternalServerError, RetryAfter: time.Second})
	assert.False(t, ok)

	d, ok = RetryDelay(errors.New("429 retry_delay {\n  seconds: 12\n}"))
	assert.True(t, ok)
	assert.Equal(t, 12*time.Second, d)

	_, ok = RetryDelay(nil)
	assert.False(t, ok)
}

func TestRetryDelayClampsHugeValues(t *testing.T) {
	d, ok := RetryDelay(errors.New("retry_delay { seconds: 99999999999999999999999 }"))
	assert.True(t, ok)
	assert.Equal(t, MaxRetryWait, d)

	d, ok = RetryDelay(errors.New("retry_delay { seconds: 9223372036 }"))
	assert.True(t, ok)
	assert.Equal(t, MaxRetryWait, d)

	d, ok = RetryDelay(rateLimited(1000 * time.Hour))
	assert.True(t, ok)
	assert.Equal(t, MaxRetryWait, d)
}

func TestGeminiBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"{\"a\":"},{"text":"1}"}]}}]}`)
	}))
	defer srv.Close()

	backend, err := NewGeminiBackend(context.Background(), srv.URL, "models/gemini-1.5-flash", "secret", time.Second)
	require.NoError(t, err)
	text, err := backend.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
}

func TestGeminiBackendRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED",
			"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"6s"}]}}`)
	}))
	defer srv.Close()

	backend, err := NewGeminiBackend(context.Background(), srv.URL, "gemini-1.5-flash", "k", time.Second)
	require.NoError(t, err)
	_, err = backend.Generate(context.Background(), "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "RESOURCE_EXHAUSTED", apiErr.Status)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "quota", apiErr.Message)

	d, ok := RetryDelay(err)
	assert.True(t, ok)
	assert.Equal(t, 6*time.Second, d)
}

func TestGeminiBackendEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	backend, err := NewGeminiBackend(context.Background(), srv.URL, "m", "k", time.Second)
	require.NoError(t, err)
	_, err = backend.Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
