package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "network error",
			err:  NewNetworkError("connection reset", 0, "https://example.com"),
			want: KindNetwork,
		},
		{
			name: "rate limit error",
			err:  NewRateLimitError("too many requests", 30),
			want: KindRateLimited,
		},
		{
			name: "blocked error",
			err:  NewBlockedError("captcha page", "captcha"),
			want: KindBlocked,
		},
		{
			name: "wrapped with fmt.Errorf",
			err:  fmt.Errorf("fetch failed: %w", NewValidationError("empty url")),
			want: KindValidation,
		},
		{
			name: "plain error",
			err:  stderrors.New("something else"),
			want: KindUnknown,
		},
		{
			name: "nil-ish plain wrap",
			err:  fmt.Errorf("outer: %w", stderrors.New("inner")),
			want: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestStatusOf(t *testing.T) {
	status, ok := StatusOf(NewNetworkError("bad gateway", 502, ""))
	require.True(t, ok)
	assert.Equal(t, 502, status)

	status, ok = StatusOf(NewRateLimitError("slow down", 0))
	require.True(t, ok)
	assert.Equal(t, 429, status)

	_, ok = StatusOf(NewValidationError("no status here"))
	assert.False(t, ok)

	_, ok = StatusOf(stderrors.New("plain"))
	assert.False(t, ok)
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := stderrors.New("dial tcp: i/o timeout")
	err := Wrap(cause, KindNetwork, "fetch failed")

	assert.Equal(t, KindNetwork, KindOf(err))
	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "fetch failed")
}

func TestError_WithContext(t *testing.T) {
	err := NewBlockedError("access denied", "waf").
		WithContext("url", "https://example.com/item")

	assert.Equal(t, "waf", err.Context["detection_type"])
	assert.Equal(t, "https://example.com/item", err.Context["url"])
	assert.False(t, err.Timestamp.IsZero())
}

func TestError_MessageFormat(t *testing.T) {
	withStatus := NewNetworkError("bad gateway", 502, "")
	assert.Equal(t, "network: bad gateway (status 502)", withStatus.Error())

	plain := NewConfigurationError("missing api port")
	assert.Equal(t, "configuration: missing api port", plain.Error())
}

func TestIsKind(t *testing.T) {
	err := NewDataQualityError("price missing")
	assert.True(t, IsKind(err, KindDataQuality))
	assert.False(t, IsKind(err, KindNetwork))
}
