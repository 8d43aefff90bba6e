package repositories

import (
	"chat-relay/errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func Test_Create_And_Get_User(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openDB(t))
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	user := User{Username: "c1@s5", DisplayName: "pemba", PasswordHash: "$argon2id$hash", CreatedAt: at}

	req.NoError(repository.CreateUser(user))

	fetched, err := repository.GetUser("c1@s5")
	req.NoError(err)
	req.Equal(user, fetched)
}

func Test_Create_User_Twice(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openDB(t))
	user := User{Username: "c1@s5", DisplayName: "pemba", PasswordHash: "h"}

	req.NoError(repository.CreateUser(user))
	err := repository.CreateUser(User{Username: "c1@s5", DisplayName: "other", PasswordHash: "h2"})
	req.ErrorIs(err, errors.ErrUserAlreadyExists)

	fetched, err := repository.GetUser("c1@s5")
	req.NoError(err)
	req.Equal("pemba", fetched.DisplayName)
	req.False(fetched.CreatedAt.IsZero())
}

func Test_Get_Unknown_User(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openDB(t))

	_, err := repository.GetUser("nobody")
	req.ErrorIs(err, errors.ErrUserNotFound)
}

func Test_List_Users_Sorted(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openDB(t))
	for _, name := range []string{"c3@s5", "c1@s5", "c2@s5"} {
		req.NoError(repository.CreateUser(User{Username: name, DisplayName: name, PasswordHash: "h"}))
	}

	users, err := repository.ListUsers()
	req.NoError(err)
	req.Len(users, 3)
	req.Equal("c1@s5", users[0].Username)
	req.Equal("c2@s5", users[1].Username)
	req.Equal("c3@s5", users[2].Username)
}

func Test_Exists_Propagates_Read_Errors(t *testing.T) {
	req := require.New(t)
	db := openDB(t)
	repository := NewUserRepository(db)
	req.NoError(repository.CreateUser(User{Username: "c1@s5", DisplayName: "pemba", PasswordHash: "h"}))

	// Given a live transaction, keys are told apart
	txn := db.NewTransaction(true)
	found, err := exists(txn, []byte(userPrefix+"c1@s5"))
	req.NoError(err)
	req.True(found)
	found, err = exists(txn, []byte(userPrefix+"ghost"))
	req.NoError(err)
	req.False(found)

	// When the transaction can no longer be read
	txn.Discard()
	found, err = exists(txn, []byte(userPrefix+"ghost"))

	// Then the failure is returned instead of being taken for an absent key
	req.ErrorIs(err, badger.ErrDiscardedTxn)
	req.False(found)
}
