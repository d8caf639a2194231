package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeIsDeterministic(t *testing.T) {
	sig1 := Compute("ticket-1", "secret-key")
	sig2 := Compute("ticket-1", "secret-key")
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 64)
}

func TestValidateAcceptsComputedSignature(t *testing.T) {
	sig := Compute("ticket-1", "secret-key")
	assert.True(t, Validate("ticket-1", "secret-key", sig))
}

func TestValidateRejectsWrongKey(t *testing.T) {
	sig := Compute("ticket-1", "secret-key")
	assert.False(t, Validate("ticket-1", "other-key", sig))
}

func TestValidateRejectsWrongTicket(t *testing.T) {
	sig := Compute("ticket-1", "secret-key")
	assert.False(t, Validate("ticket-2", "secret-key", sig))
}

func TestValidateRejectsMalformedInput(t *testing.T) {
	sig := Compute("ticket-1", "secret-key")

	assert.False(t, Validate("ticket-1", "secret-key", "not-hex!"))
	assert.False(t, Validate("ticket-1", "secret-key", ""))
	assert.False(t, Validate("", "secret-key", sig))
	assert.False(t, Validate("ticket-1", "", sig))
	// Truncated but valid hex must still fail.
	assert.False(t, Validate("ticket-1", "secret-key", sig[:32]))
	// Case changes alter the bytes after decode only if hex stays valid.
	assert.False(t, Validate("ticket-1", "secret-key", strings.Repeat("ab", 32)))
}
