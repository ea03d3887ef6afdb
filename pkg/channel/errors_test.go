package channel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError_NamesField(t *testing.T) {
	err := NewConfigError("wsgateway", "app_secret")
	assert.Contains(t, err.Error(), "app_secret")
	assert.Contains(t, err.Error(), "wsgateway")

	var cfgErr *ConfigError
	require.True(t, errors.As(fmt.Errorf("initialize: %w", err), &cfgErr))
	assert.Equal(t, "app_secret", cfgErr.Field)
}

func TestTaxonomy_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")

	var err error = &TransportError{Channel: "mailbox", Err: cause}
	assert.ErrorIs(t, err, cause)

	err = &AuthError{Channel: "cryptohook", Err: cause}
	assert.ErrorIs(t, err, cause)

	err = &HandlerError{Channel: "longpoll", Err: cause}
	assert.ErrorIs(t, err, cause)

	err = &DecodeError{Channel: "cryptohook", Reason: "bad padding", Err: cause}
	assert.ErrorIs(t, err, cause)
}

func TestDecodeError_WithoutCause(t *testing.T) {
	err := &DecodeError{Channel: "cryptohook", Reason: "signature mismatch"}
	assert.Contains(t, err.Error(), "signature mismatch")
}
