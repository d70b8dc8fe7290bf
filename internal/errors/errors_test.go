package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_WalksWrappedChain(t *testing.T) {
	base := Input("search", "query must not be empty")
	wrapped := fmt.Errorf("cli: %w", base)

	assert.True(t, Is(wrapped, KindInput))
	assert.False(t, Is(wrapped, KindNotFound))
	assert.Equal(t, KindInput, KindOf(wrapped))
}

func TestIs_NestedKinds(t *testing.T) {
	inner := Unavailable("index.open", "lexical index", stderrors.New("no such file"))
	outer := New(KindProjection, "rebuild", "index step", inner)

	assert.True(t, Is(outer, KindProjection))
	assert.True(t, Is(outer, KindUnavailable))
	assert.Equal(t, KindProjection, KindOf(outer))
}

func TestIs_PlainError(t *testing.T) {
	assert.False(t, Is(stderrors.New("boom"), KindInput))
	assert.False(t, Is(nil, KindInput))
	assert.Equal(t, Kind(""), KindOf(stderrors.New("boom")))
}

func TestError_Message(t *testing.T) {
	err := Unavailable("index.query", "lexical index", stderrors.New("locked"))
	assert.Equal(t, "index.query: lexical index unavailable: locked", err.Error())

	err = NotFound("", "node x")
	assert.Equal(t, "not_found: not found: node x", err.Error())
}
