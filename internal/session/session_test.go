package session_test

import (
	"context"
	"testing"

	"github.com/beads-db/kernel/internal/name"
	"github.com/beads-db/kernel/internal/rowstore"
	"github.com/beads-db/kernel/internal/session"
	"github.com/beads-db/kernel/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoord() *txn.Coordinator {
	return txn.NewCoordinator(func(*name.Name) rowstore.Collaborator { return nil }, nil, nil, txn.ModeLocks)
}

func TestSessionStartsIdle(t *testing.T) {
	sess := session.New(newCoord(), nil, true, false)
	assert.Equal(t, session.Idle, sess.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	sess := session.New(newCoord(), nil, true, false)
	require.NoError(t, sess.Close(context.Background()))
	require.NoError(t, sess.Close(context.Background()))
	assert.Equal(t, session.Closed, sess.State())
}

func TestOperationsRejectedAfterClose(t *testing.T) {
	sess := session.New(newCoord(), nil, true, false)
	require.NoError(t, sess.Close(context.Background()))
	assert.Error(t, sess.Commit(context.Background()))
}

func TestCancelRejectsWrongRandomID(t *testing.T) {
	sess := session.New(newCoord(), nil, true, false)
	err := sess.Cancel(context.Background(), "not-the-real-id")
	assert.Error(t, err)
}

func TestCancelAcceptsCorrectRandomID(t *testing.T) {
	sess := session.New(newCoord(), nil, true, false)
	err := sess.Cancel(context.Background(), sess.RandomID())
	assert.NoError(t, err)
}

func TestCommitNoOpWhileReentrant(t *testing.T) {
	sess := session.New(newCoord(), nil, false, false)
	var innerErr error
	outerErr := sess.Reentrant(func() error {
		innerErr = sess.Commit(context.Background())
		return nil
	})
	require.NoError(t, outerErr)
	assert.NoError(t, innerErr)
}

func TestReleaseSavepointUnknownNameErrors(t *testing.T) {
	sess := session.New(newCoord(), nil, false, false)
	assert.Error(t, sess.ReleaseSavepoint("NOPE"))
}
