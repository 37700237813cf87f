package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	assert.Equal(t, KindTransient, KindOf(base))
	assert.Equal(t, KindTransient, KindOf(Transient(base)))
	assert.Equal(t, KindRejected, KindOf(Rejected(base)))
	assert.Equal(t, KindPermanent, KindOf(fmt.Errorf("decode: %w", Permanent(base))))
}

func TestWrapPreservesCause(t *testing.T) {
	base := errors.New("boom")
	err := Permanent(base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "permanent: boom", err.Error())
	assert.Nil(t, Rejected(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("conn refused")))
	assert.False(t, IsRetryable(Permanent(errors.New("bad json"))))
}
