package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zora/internal/event"
)

func TestWriterAppendOrderAndFlush(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	w, err := store.Writer("job-1", time.Hour) // timer never fires in test
	require.NoError(t, err)

	require.NoError(t, w.Append(event.NewText("provider", "first")))
	require.NoError(t, w.Append(event.NewText("provider", "second")))
	require.NoError(t, w.Append(event.NewDone("provider", event.DoneData{Text: "third"})))

	// Nothing on disk until a flush.
	events, err := store.Read("job-1")
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, w.Flush())
	events, err = store.Read("job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "first", events[0].Text)
	assert.Equal(t, "second", events[1].Text)
	assert.Equal(t, event.KindDone, events[2].Kind)

	require.NoError(t, w.Close())
}

func TestWriterCloseFlushesRemainder(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	w, err := store.Writer("job-2", time.Hour)
	require.NoError(t, err)
	require.NoError(t, w.Append(event.NewText("provider", "pending")))
	require.NoError(t, w.Close())

	events, err := store.Read("job-2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "pending", events[0].Text)
}

func TestWriterTimedFlush(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	w, err := store.Writer("job-3", 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(event.NewText("provider", "ticked")))

	require.Eventually(t, func() bool {
		events, err := store.Read("job-3")
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestReadToleratesTornTrailingLine(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	w, err := store.Writer("job-4", time.Hour)
	require.NoError(t, err)
	require.NoError(t, w.Append(event.NewText("provider", "intact")))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(filepath.Join(dir, "job-4.jsonl"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"kind":"text","text":"torn`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := store.Read("job-4")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "intact", events[0].Text)
}

func TestReadMissingJob(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	events, err := store.Read("never-ran")
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"a", "b"} {
		w, err := store.Writer(id, time.Hour)
		require.NoError(t, err)
		require.NoError(t, w.Append(event.NewText("p", "x")))
		require.NoError(t, w.Close())
	}

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.Contains(t, []string{"a", "b"}, info.JobID)
		assert.Greater(t, info.SizeBytes, int64(0))
	}
}
