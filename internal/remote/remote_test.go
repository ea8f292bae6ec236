package remote_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote/memory"
)

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, apperrors.ErrRemoteAuth, remote.ClassifyStatus(401))
	assert.Equal(t, apperrors.ErrRemoteTimeout, remote.ClassifyStatus(504))
	assert.Equal(t, apperrors.ErrRemoteUnavailable, remote.ClassifyStatus(503))
	assert.Equal(t, apperrors.ErrRemoteUnavailable, remote.ClassifyStatus(429))
	assert.Equal(t, apperrors.ErrRemoteRejected, remote.ClassifyStatus(409))
}

func TestClassifyTransport(t *testing.T) {
	err := remote.ClassifyTransport("upsert", fmt.Errorf("dial: %w", context.DeadlineExceeded))
	assert.True(t, apperrors.Is(err, apperrors.ErrRemoteTimeout))
	assert.True(t, apperrors.IsTransient(err))

	err = remote.ClassifyTransport("upsert", errors.New("connection refused"))
	assert.True(t, apperrors.Is(err, apperrors.ErrRemoteUnavailable))
}

// TestSelectAllPages verifies paging stops at the first short page.
func TestSelectAllPages(t *testing.T) {
	c := memory.New()
	for i := 0; i < 7; i++ {
		c.Seed(models.TableStudents, remote.Record{"id": fmt.Sprintf("s%d", i), "user_id": "u1", "name": "x"})
	}
	c.Seed(models.TableStudents, remote.Record{"id": "other", "user_id": "u2"})

	recs, err := remote.SelectAll(context.Background(), c, models.TableStudents, remote.OwnedBy("u1"), 3)
	require.NoError(t, err)
	assert.Len(t, recs, 7)
	assert.Equal(t, 3, c.Calls("select"))
}
