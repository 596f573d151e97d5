package kvbadger

import (
	"context"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/relquery/relquery"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	s, err := OpenWithOptions(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openSource(t *testing.T, s *Store, name string) (store.Source, *tx) {
	h, err := s.OpenTx(context.Background(), []string{name}, plan.ReadWrite)
	require.NoError(t, err)
	bt := h.(*tx)
	src, err := bt.Source(name)
	require.NoError(t, err)
	return src, bt
}

func TestAddAssignsUUIDKey(t *testing.T) {
	s := openTestStore(t)
	s.Declare(store.SourceSpec{Name: "people", AutoIncrement: true})
	src, btx := openSource(t, s, "people")

	rec, err := src.Add(context.Background(), relquery.Record{"name": "ada"}, nil)
	require.NoError(t, err)
	require.NoError(t, btx.Commit())

	key, ok := rec[relquery.PrimaryKeyAttr].(string)
	require.True(t, ok)
	assert.NotEmpty(t, key)
}

func TestPutReplacesAndReindexes(t *testing.T) {
	s := openTestStore(t)
	s.Declare(store.SourceSpec{
		Name:    "people",
		KeyPath: store.KeyPath{"id"},
		Indexes: []store.IndexSpec{{Name: "by_status", KeyPath: store.KeyPath{"status"}}},
	})
	src, btx := openSource(t, s, "people")

	_, err := src.Put(context.Background(), relquery.Record{"id": 1.0, "status": "active", "name": "ada"}, nil)
	require.NoError(t, err)
	_, err = src.Put(context.Background(), relquery.Record{"id": 1.0, "status": "inactive", "name": "ada"}, nil)
	require.NoError(t, err)
	require.NoError(t, btx.Commit())

	src2, btx2 := openSource(t, s, "people")
	cur, err := src2.OpenCursor(context.Background(), "by_status", store.NativeRange{Lower: []relquery.Value{"active"}, Upper: []relquery.Value{"active"}})
	require.NoError(t, err)
	defer cur.Close()
	assert.False(t, cur.Next(context.Background()))

	cur2, err := src2.OpenCursor(context.Background(), "by_status", store.NativeRange{Lower: []relquery.Value{"inactive"}, Upper: []relquery.Value{"inactive"}})
	require.NoError(t, err)
	defer cur2.Close()
	require.True(t, cur2.Next(context.Background()))
	assert.Equal(t, "ada", cur2.Record()["name"])
	require.NoError(t, btx2.Abort())
}

func TestDeleteRemovesFromEveryIndex(t *testing.T) {
	s := openTestStore(t)
	s.Declare(store.SourceSpec{
		Name:    "people",
		KeyPath: store.KeyPath{"id"},
		Indexes: []store.IndexSpec{{Name: "by_status", KeyPath: store.KeyPath{"status"}}},
	})
	src, btx := openSource(t, s, "people")

	_, err := src.Put(context.Background(), relquery.Record{"id": 1.0, "status": "active"}, nil)
	require.NoError(t, err)
	require.NoError(t, src.Delete(context.Background(), 1.0))
	require.NoError(t, btx.Commit())

	src2, btx2 := openSource(t, s, "people")
	cur, err := src2.OpenCursor(context.Background(), "primary", store.NativeRange{})
	require.NoError(t, err)
	defer cur.Close()
	assert.False(t, cur.Next(context.Background()))

	cur2, err := src2.OpenCursor(context.Background(), "by_status", store.NativeRange{})
	require.NoError(t, err)
	defer cur2.Close()
	assert.False(t, cur2.Next(context.Background()))
	require.NoError(t, btx2.Abort())
}

func TestOpenCursorOrdersNumericallyAcrossEncodedKeys(t *testing.T) {
	s := openTestStore(t)
	s.Declare(store.SourceSpec{Name: "events", KeyPath: store.KeyPath{"ts"}})
	src, btx := openSource(t, s, "events")

	for _, ts := range []float64{30, 5, 20, -1, 100} {
		_, err := src.Put(context.Background(), relquery.Record{"ts": ts}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, btx.Commit())

	src2, btx2 := openSource(t, s, "events")
	cur, err := src2.OpenCursor(context.Background(), "primary", store.NativeRange{})
	require.NoError(t, err)
	defer cur.Close()

	var seen []relquery.Value
	for cur.Next(context.Background()) {
		seen = append(seen, cur.Record()["ts"])
	}
	assert.Equal(t, []relquery.Value{-1.0, 5.0, 20.0, 30.0, 100.0}, seen)
	require.NoError(t, btx2.Abort())
}
