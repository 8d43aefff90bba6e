//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker is a long-running loop owned by the supervisor.
// Returning nil means done for good, an error or a panic means restart.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName returns the type name of the worker for logs.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Conn is the transport handle of one accepted client.
// Receive blocks until a frame arrives, the context ends or the connection closes.
// Close is idempotent; the first reason wins.
type Conn interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, data []byte) error
	Close(reason string) error
	RemoteAddr() string
}

// IIdentityStore resolves login credentials to a stable identity.
// Implementations must be safe for concurrent calls.
type IIdentityStore interface {
	Authenticate(ctx context.Context, username, proof string) (domain.Identity, error)
	IssueToken(identity domain.Identity) (string, error)
}

// IConnectionHandler drives one accepted connection until it is closed.
type IConnectionHandler interface {
	Serve(ctx context.Context, conn Conn) error
}
