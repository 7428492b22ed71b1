package auditlog

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())
	return entries
}

func TestWriter_DailyFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	defer w.Close()

	now := time.Date(2024, 1, 6, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	var rotated []string
	w.OnRotate = func(path string) { rotated = append(rotated, path) }

	require.NoError(t, w.Write(Entry{Type: "checkout.session.completed", ID: "evt_1", Data: json.RawMessage(`{"id":"cs_1"}`)}))
	require.NoError(t, w.Write(Entry{Type: "payment_intent.succeeded", ID: "evt_2"}))

	now = now.Add(2 * time.Minute)
	require.NoError(t, w.Write(Entry{Type: "checkout.session.expired", ID: "evt_3"}))

	first := readEntries(t, w.Path("2024-01-06"))
	require.Len(t, first, 2)
	assert.Equal(t, "evt_1", first[0].ID)
	assert.JSONEq(t, `{"id":"cs_1"}`, string(first[0].Data))
	assert.Equal(t, "2024-01-06T23:59:00Z", first[0].Timestamp.Format(time.RFC3339))
	assert.Equal(t, "null", string(first[1].Data))

	second := readEntries(t, w.Path("2024-01-07"))
	require.Len(t, second, 1)
	assert.Equal(t, "checkout.session.expired", second[0].Type)

	assert.Equal(t, []string{w.Path("2024-01-06")}, rotated)
}

func TestWriter_AppendsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	fixed := func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	for i := 0; i < 2; i++ {
		w, err := New(dir)
		require.NoError(t, err)
		w.now = fixed
		require.NoError(t, w.Write(Entry{Type: "t", ID: "evt"}))
		require.NoError(t, w.Close())
	}

	w, err := New(dir)
	require.NoError(t, err)
	assert.Len(t, readEntries(t, w.Path("2024-03-01")), 2)
}
