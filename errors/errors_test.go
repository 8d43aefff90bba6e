package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid credentials", ErrInvalidCredentials, ReasonInvalidCredentials},
		{"unknown user", fmt.Errorf("lookup: %w", ErrUserNotFound), ReasonInvalidCredentials},
		{"malformed", fmt.Errorf("%w: unknown type", ErrMalformedEnvelope), ReasonMalformedEnvelope},
		{"offline", ErrRecipientOffline, ReasonRecipientOffline},
		{"closed between lookup and delivery", ErrSessionClosed, ReasonRecipientOffline},
		{"slow recipient", fmt.Errorf("deliver: %w", ErrOutboundFull), ReasonRecipientOffline},
		{"duplicate", ErrDuplicateLogin, ReasonDuplicateLogin},
		{"timeout", ErrAuthTimeout, ReasonAuthTimeout},
		{"anything else", context.Canceled, ReasonUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Reason(tt.err))
		})
	}
}
