package kernelerr_test

import (
	"errors"
	"testing"

	"github.com/beads-db/kernel/internal/kernelerr"
	"github.com/stretchr/testify/assert"
)

func TestIsMatchesCode(t *testing.T) {
	err := kernelerr.New(kernelerr.ObjectNotFound, "PUBLIC.T1")
	assert.True(t, kernelerr.Is(err, kernelerr.ObjectNotFound))
	assert.False(t, kernelerr.Is(err, kernelerr.SchemaNotEmpty))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := kernelerr.Wrap(kernelerr.ConnectionFailure, "sess-1", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestErrorStringOmitsArgWhenEmpty(t *testing.T) {
	err := kernelerr.New(kernelerr.StatementAborted, "")
	assert.Equal(t, "STATEMENT_ABORTED", err.Error())
}
