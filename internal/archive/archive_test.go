package archive

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtroom/api/internal/court"
)

func version(n int) court.VerdictVersion {
	return court.VerdictVersion{
		Version:   n,
		Ruling:    court.Ruling{Summary: "ruling", Validations: []string{"seen"}},
		CreatedAt: time.Date(2026, 3, 1, 12, n, 0, 0, time.UTC),
	}
}

func TestArchiveLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	history, err := svc.History("ses_1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	first, err := svc.CommitVersion("ses_1", version(1), "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "court", first.Author)
	assert.Len(t, first.Hash, 7)

	v2 := version(2)
	v2.Addendum = &court.Addendum{Author: court.RolePartner, Text: "more"}
	second, err := svc.CommitVersion("ses_1", v2, "partner")
	require.NoError(t, err)
	assert.Contains(t, second.Message, "addendum-by: partner")

	again, err := svc.CommitVersion("ses_1", version(1), "")
	require.NoError(t, err)
	assert.Equal(t, first.Hash, again.Hash)

	history, err = svc.History("ses_1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.Equal(t, 1, history[1].Version)

	limited, err := svc.History("ses_1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	read, err := svc.Read("ses_1", 2)
	require.NoError(t, err)
	assert.Equal(t, "more", read.Addendum.Text)
	assert.Equal(t, []string{"seen"}, read.Ruling.Validations)

	_, err = svc.Read("ses_1", 9)
	assert.ErrorIs(t, err, ErrNotArchived)
	_, err = svc.Read("ses_missing", 1)
	assert.ErrorIs(t, err, ErrNotArchived)
}

func TestArchiveRejectsPathTraversal(t *testing.T) {
	svc := New(t.TempDir())
	for _, id := range []string{"", "../escape", "a/b", ".git"} {
		_, err := svc.CommitVersion(id, version(1), "")
		assert.Error(t, err, id)
	}
}

func TestArchiveConcurrentSessions(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for _, id := range []string{"ses_a", "ses_b", "ses_c"} {
		for n := 1; n <= 2; n++ {
			wg.Add(1)
			go func(id string, n int) {
				defer wg.Done()
				_, err := svc.CommitVersion(id, version(n), "")
				errs <- err
			}(id, n)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for _, id := range []string{"ses_a", "ses_b", "ses_c"} {
		history, err := svc.History(id, 0)
		require.NoError(t, err)
		assert.Len(t, history, 2)
	}
}

func TestSanitizeEmail(t *testing.T) {
	assert.Equal(t, "Avery.Stone", sanitizeEmail("Avery Stone"))
	assert.Equal(t, "court", sanitizeEmail("!!!"))
}
