package domain

import "fmt"

// ConnectionState is the lifecycle of one client connection.
// Transitions only move forward; CLOSED is terminal.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateAuthenticating
	StateOnline
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateOnline:
		return "ONLINE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(s))
	}
}

// Close reasons sent with the transport close notice.
const (
	CloseDuplicateLogin = "DUPLICATE_LOGIN"
	CloseLogout         = "LOGOUT"
	CloseAuthFail       = "AUTH_FAIL"
	CloseAuthTimeout    = "AUTH_TIMEOUT"
	CloseShutdown       = "SHUTDOWN"
	CloseKicked         = "KICKED"
	CloseTransport      = "TRANSPORT_ERROR"
)

// DuplicateLoginPolicy decides what happens when an online identity logs in again.
type DuplicateLoginPolicy string

const (
	EvictOld  DuplicateLoginPolicy = "evict-old"
	RejectNew DuplicateLoginPolicy = "reject-new"
)

func ParseDuplicateLoginPolicy(s string) (DuplicateLoginPolicy, error) {
	switch DuplicateLoginPolicy(s) {
	case "", EvictOld:
		return EvictOld, nil
	case RejectNew:
		return RejectNew, nil
	}
	return "", fmt.Errorf("unknown duplicate login policy %q (expected %q or %q)", s, EvictOld, RejectNew)
}
