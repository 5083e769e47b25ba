package repository

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
)

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "idx_user_content_hash" (SQLSTATE 23505)`)))
	require.False(t, isUniqueViolation(errors.New("connection refused")))
}

func TestWrapRelationalErrDuplicate(t *testing.T) {
	err := wrapRelationalErr(errors.New("duplicate key value violates unique constraint"))
	require.ErrorIs(t, err, fabricerrors.ErrDuplicateContent)
}

func TestWrapRelationalErrGeneric(t *testing.T) {
	err := wrapRelationalErr(errors.New("connection reset"))
	require.ErrorIs(t, err, fabricerrors.ErrRelational)
}

func TestWrapRelationalErrNil(t *testing.T) {
	require.NoError(t, wrapRelationalErr(nil))
}
