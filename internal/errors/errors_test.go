package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrValidation, ErrConfig,
		ErrDatabase, ErrMigration, ErrConstraint,
		ErrRemoteUnavailable, ErrRemoteRejected, ErrRemoteAuth, ErrRemoteTimeout,
		ErrSyncNotConfigured, ErrSyncFailed, ErrSyncInProgress, ErrReconcileFailed, ErrUnsupportedTable,
		ErrExportFailed, ErrImportFailed, ErrBackupInvalid,
	}
	seen := make(map[ErrorCode]bool)
	for _, c := range codes {
		assert.NotEmpty(t, string(c))
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}
}

func TestAppErrorFormatting(t *testing.T) {
	err := New(ErrNotFound, "student not found")
	assert.Equal(t, "[NOT_FOUND] student not found", err.Error())

	wrapped := Wrap(ErrDatabase, "put row", stderrors.New("disk full"))
	assert.Equal(t, "[DATABASE_ERROR] put row: disk full", wrapped.Error())
	assert.Equal(t, "disk full", stderrors.Unwrap(wrapped).Error())

	assert.Equal(t, "[SYNC_FAILED] batch 3", Newf(ErrSyncFailed, "batch %d", 3).Error())
}

// TestIsWalksChain verifies Is finds codes through fmt and pkg/errors wrapping.
func TestIsWalksChain(t *testing.T) {
	inner := Wrap(ErrRemoteTimeout, "upsert", stderrors.New("deadline"))
	outer := Wrap(ErrSyncFailed, "drain", inner)

	assert.True(t, Is(outer, ErrSyncFailed))
	assert.True(t, Is(outer, ErrRemoteTimeout))
	assert.False(t, Is(outer, ErrDatabase))

	assert.True(t, Is(fmt.Errorf("ctx: %w", inner), ErrRemoteTimeout))
	assert.True(t, Is(pkgerrors.Wrap(inner, "ctx"), ErrRemoteTimeout))
	assert.False(t, Is(nil, ErrInternal))
	assert.False(t, Is(stderrors.New("plain"), ErrInternal))
}

func TestClassification(t *testing.T) {
	assert.Equal(t, ErrInternal, Code(stderrors.New("plain")))
	assert.Equal(t, ErrRemoteAuth, Code(pkgerrors.WithStack(New(ErrRemoteAuth, "401"))))

	assert.True(t, IsRemote(New(ErrRemoteRejected, "409")))
	assert.False(t, IsRemote(New(ErrDatabase, "locked")))

	assert.True(t, IsTransient(New(ErrRemoteUnavailable, "503")))
	assert.True(t, IsTransient(New(ErrRemoteTimeout, "timeout")))
	assert.False(t, IsTransient(New(ErrRemoteRejected, "400")))
	assert.Equal(t, stderrors.New("x").Error(), pkgerrors.Cause(Wrap(ErrInternal, "m", stderrors.New("x"))).Error())
}
