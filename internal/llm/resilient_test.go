package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetriage/internal/retry"
)

// Mock LLM client for testing
type mockClient struct {
	responses []string
	errs      []error
	calls     int
}

func (m *mockClient) Generate(ctx context.Context, prompt string) (string, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (m *mockClient) GenerateStructured(ctx context.Context, prompt string, target any) error {
	raw, err := m.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	_, err = ParseJSON(raw, target)
	return err
}

// Slow mock client for timeout testing
type slowClient struct {
	delay time.Duration
}

func (s *slowClient) Generate(ctx context.Context, prompt string) (string, error) {
	select {
	case <-time.After(s.delay):
		return `{"ok": true}`, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *slowClient) GenerateStructured(ctx context.Context, prompt string, target any) error {
	_, err := s.Generate(ctx, prompt)
	return err
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	mock := &mockClient{
		responses: []string{"", "", "all good"},
		errs:      []error{errors.New("503 service unavailable"), errors.New("rate limit")},
	}
	rc := NewResilientClient(mock, fastRetry(), 0)

	out, err := rc.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "all good", out)
	assert.Equal(t, 3, mock.calls)
}

func TestGenerateGivesUpAfterBudget(t *testing.T) {
	mock := &mockClient{errs: []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
	}}
	rc := NewResilientClient(mock, fastRetry(), 0)

	_, err := rc.Generate(context.Background(), "hi")
	assert.Error(t, err)
	assert.Equal(t, 3, mock.calls)
}

func TestGenerateStructuredRepairsMalformedJSON(t *testing.T) {
	mock := &mockClient{responses: []string{`{"category": "bug",}`}}
	rc := NewResilientClient(mock, fastRetry(), 0)

	var got struct {
		Category string `json:"category"`
	}
	require.NoError(t, rc.GenerateStructured(context.Background(), "hi", &got))
	assert.Equal(t, "bug", got.Category)
	assert.Equal(t, 1, mock.calls, "repairable JSON must not burn a retry")
}

func TestGenerateStructuredRetriesUnparseableCompletion(t *testing.T) {
	mock := &mockClient{responses: []string{
		"sorry, I can't help with that",
		`{"category": "docs"}`,
	}}
	rc := NewResilientClient(mock, fastRetry(), 0)

	var got struct {
		Category string `json:"category"`
	}
	require.NoError(t, rc.GenerateStructured(context.Background(), "hi", &got))
	assert.Equal(t, "docs", got.Category)
	assert.Equal(t, 2, mock.calls)
}

func TestTimeoutBoundsCall(t *testing.T) {
	rc := NewResilientClient(&slowClient{delay: time.Second},
		retry.Config{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		20*time.Millisecond)

	start := time.Now()
	_, err := rc.Generate(context.Background(), "hi")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
