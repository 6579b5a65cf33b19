package journal

import (
	"context"
	"testing"

	"github.com/dontdude/walq/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPebbleJournal_AppendReplayReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j, err := OpenPebble(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, add(1, "a")))
	require.NoError(t, j.Append(ctx, add(2, "b c")))
	require.NoError(t, j.Close())

	j, err = OpenPebble(dir)
	require.NoError(t, err)
	defer j.Close()
	assert.Equal(t, uint64(2), j.seq)

	require.NoError(t, j.Append(ctx, done(1)))
	assert.Equal(t, []domain.Record{add(1, "a"), add(2, "b c"), done(1)}, collect(t, j))

	rec, err := Recover(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, []domain.Job{{ID: 2, Payload: "b c"}}, rec.Jobs)
}

func TestPebbleJournal_RejectsInvalidRecord(t *testing.T) {
	j, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	assert.Error(t, j.Append(context.Background(), domain.Record{Op: domain.OpAdd, ID: 1}))
	assert.Zero(t, j.seq)
}

func TestPebbleKeyOrder(t *testing.T) {
	assert.Less(t, string(pebbleKey(255)), string(pebbleKey(256)))
	assert.Equal(t, uint64(12345), decodePebbleKey(pebbleKey(12345)))
}
