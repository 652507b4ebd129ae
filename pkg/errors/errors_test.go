package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	meta := MetadataFor(CodeTransient)
	assert.True(t, meta.Retryable)
	assert.Equal(t, http.StatusServiceUnavailable, meta.HTTPStatus)

	meta = MetadataFor(CodeRejected)
	assert.False(t, meta.Retryable)
	assert.Equal(t, http.StatusUnprocessableEntity, meta.HTTPStatus)
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	assert.Equal(t, MetadataFor(CodeInternal), meta)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CodeTransient, cause, "posting order")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeTransient, err.Code())
	assert.Equal(t, "TRANSIENT: posting order", err.Error())
}

func TestAsUnwrapsThroughWrapping(t *testing.T) {
	inner := New(CodeDuplicateAccepted, "temp_id already applied")
	outer := fmt.Errorf("submit: %w", inner)

	typed := As(outer)
	require.NotNil(t, typed)
	assert.Equal(t, CodeDuplicateAccepted, typed.Code())
}

func TestCodeOfAndHelpers(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain")))
	assert.True(t, IsTransient(New(CodeTransient, "timeout")))
	assert.False(t, IsTransient(New(CodeRejected, "bad payload")))
	assert.True(t, IsDuplicateAccepted(fmt.Errorf("wrap: %w", New(CodeDuplicateAccepted, "dup"))))
}

func TestDumpCollectsChain(t *testing.T) {
	err := Wrap(CodeLocalStorage, fmt.Errorf("disk full"), "enqueue order")
	dump := Dump(fmt.Errorf("checkout: %w", err))

	assert.Equal(t, CodeLocalStorage, dump.Code)
	require.GreaterOrEqual(t, len(dump.Chain), 3)
	assert.Contains(t, dump.TopMessage, "enqueue order")
}
