package idalloc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesTwoTokenHandle(t *testing.T) {
	a := New(nil)
	handle := a.Generate()

	parts := strings.Split(handle, "-")
	assert.Len(t, parts, 2)
	assert.NotEmpty(t, parts[0])
	assert.NotEmpty(t, parts[1])
}

func TestToMultiplexerName(t *testing.T) {
	assert.Equal(t, "ds-bright-otter", ToMultiplexerName("bright-otter"))
}

func TestFindAvailableRejectsTaken(t *testing.T) {
	a := New(nil)

	seen := map[string]bool{}
	rejectFirstThree := func(candidate string) (bool, error) {
		if len(seen) < 3 && !seen[candidate] {
			seen[candidate] = true
			return true, nil
		}
		return false, nil
	}

	handle, err := a.FindAvailable(rejectFirstThree)
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
}

func TestFindAvailableExhaustsSpace(t *testing.T) {
	a := New(nil)

	alwaysTaken := func(candidate string) (bool, error) { return true, nil }

	_, err := a.FindAvailable(alwaysTaken)
	assert.ErrorIs(t, err, ErrExhaustedIdSpace)
}

func TestFindAvailablePropagatesCheckerError(t *testing.T) {
	a := New(nil)

	boom := func(candidate string) (bool, error) { return false, assertErr }

	_, err := a.FindAvailable(boom)
	require.Error(t, err)
}

var assertErr = errUnavailable{}

type errUnavailable struct{}

func (errUnavailable) Error() string { return "checker unavailable" }
