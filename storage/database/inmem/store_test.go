package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/record"
)

func ids(recs []record.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	id, err := s.Create(ctx, "classes", record.Document{"name": "10-A", "grade": 10})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.Get(ctx, "classes", id)
	require.NoError(t, err)
	assert.Equal(t, record.Document{"name": "10-A", "grade": 10.0}, rec.Data)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.True(t, rec.UpdatedAt.IsZero())

	require.NoError(t, s.Update(ctx, "classes", id, record.Document{"room": "B12"}))
	rec, err = s.Get(ctx, "classes", id)
	require.NoError(t, err)
	assert.Equal(t, record.Document{"name": "10-A", "grade": 10.0, "room": "B12"}, rec.Data)
	assert.False(t, rec.UpdatedAt.IsZero())

	err = s.Update(ctx, "classes", "nope", record.Document{"room": "B12"})
	assert.True(t, core.IsNotFound(err), "want NotFoundError, got %v", err)

	_, err = s.Get(ctx, "classes", "nope")
	assert.True(t, core.IsNotFound(err))

	require.NoError(t, s.Delete(ctx, "classes", id))
	require.NoError(t, s.Delete(ctx, "classes", id), "delete must be idempotent")
	_, err = s.Get(ctx, "classes", id)
	assert.True(t, core.IsNotFound(err))

	_, err = s.Create(ctx, "", record.Document{})
	assert.True(t, core.IsWriteError(err))
	assert.True(t, core.IsWriteError(s.Set(ctx, "classes", "", record.Document{})))
}

func TestStore_SetIsAnUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	key := "10-A_2024-03-01_s1"
	require.NoError(t, s.Set(ctx, "attendance", key, record.Document{"status": "present"}))
	first, err := s.Get(ctx, "attendance", key)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "attendance", key, record.Document{"status": "late"}))
	recs, err := s.Query(ctx, "attendance", nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "late", recs[0].Data["status"])
	assert.Equal(t, first.CreatedAt, recs[0].CreatedAt)
}

func TestStore_Query(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	mk := func(id, role, class, name string) {
		require.NoError(t, s.Set(ctx, "users", id, record.Document{"role": role, "classId": class, "name": name}))
	}
	mk("s1", "student", "10-A", "Zed")
	mk("s2", "student", "10-A", "Amy")
	mk("s3", "student", "10-B", "Bob")
	mk("t1", "teacher", "", "Tom")

	tests := []struct {
		name     string
		conds    []record.Condition
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "all, insertion order", want: []string{"s1", "s2", "s3", "t1"}},
		{name: "roster", conds: []record.Condition{record.Eq("role", "student"), record.Eq("classId", "10-A")}, want: []string{"s1", "s2"}},
		{name: "ordered", conds: []record.Condition{record.Eq("role", "student")}, ordering: core.ParseOrdering("name"), want: []string{"s2", "s3", "s1"}},
		{name: "in", conds: []record.Condition{record.In("classId", "10-B", "")}, want: []string{"s3", "t1"}},
		{name: "no match", conds: []record.Condition{record.Eq("role", "admin")}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.Query(ctx, "users", tt.conds, tt.ordering...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(recs))
		})
	}

	_, err := s.Query(ctx, "users", []record.Condition{record.Where("role", "like", "x")})
	assert.True(t, core.IsQueryError(err))
}

func TestStore_IndexEnforcement(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithIndexEnforcement())
	require.NoError(t, s.Set(ctx, "attendance", "a", record.Document{"studentId": "s1", "date": "2024-03-01"}))

	// single field and equality-only queries never need a composite index
	_, err := s.Query(ctx, "attendance", []record.Condition{record.Eq("studentId", "s1")}, core.ParseOrdering("studentId")...)
	assert.NoError(t, err)
	_, err = s.Query(ctx, "attendance", []record.Condition{record.Eq("studentId", "s1"), record.Eq("date", "2024-03-01")})
	assert.NoError(t, err)

	_, err = s.Query(ctx, "attendance", []record.Condition{record.Eq("studentId", "s1")}, core.ParseOrdering("-date")...)
	assert.True(t, core.IsQueryIndexRequired(err), "want index required, got %v", err)

	s.DeclareIndex("attendance", "date", "studentId")
	recs, err := s.Query(ctx, "attendance", []record.Condition{record.Eq("studentId", "s1")}, core.ParseOrdering("-date")...)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStore_Batch(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Set(ctx, "notifications", "old", record.Document{"read": false}))

	got, err := s.Batch(ctx, []record.Write{
		{Collection: "notifications", Data: record.Document{"userId": "s1"}},
		{Collection: "notifications", ID: "fixed", Data: record.Document{"userId": "s2"}},
		{Collection: "notifications", ID: "old", Delete: true},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.NotEmpty(t, got[0])
	assert.Equal(t, "fixed", got[1])

	recs, err := s.Query(ctx, "notifications", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{got[0], "fixed"}, ids(recs))

	// all or nothing
	_, err = s.Batch(ctx, []record.Write{
		{Collection: "notifications", Data: record.Document{"userId": "s3"}},
		{Collection: "", Data: record.Document{"userId": "s4"}},
	})
	assert.True(t, core.IsWriteError(err))
	recs, err = s.Query(ctx, "notifications", nil)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Set(ctx, "notifications", "n1", record.Document{"userId": "s1", "read": false}))

	var snapshots [][]string
	unsub, err := s.Subscribe(ctx, "notifications", []record.Condition{record.Eq("userId", "s1")}, func(recs []record.Record) {
		snapshots = append(snapshots, ids(recs))
	})
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "notifications", "n2", record.Document{"userId": "s1", "read": false}))
	require.NoError(t, s.Set(ctx, "notifications", "x1", record.Document{"userId": "s2"}))  // not affecting
	require.NoError(t, s.Update(ctx, "notifications", "n1", record.Document{"userId": "s9"})) // leaves the match set
	require.NoError(t, s.Update(ctx, "notifications", "n1", record.Document{"read": true}))   // not affecting anymore

	assert.Equal(t, [][]string{{"n1"}, {"n1", "n2"}, {"n2"}}, snapshots)

	unsub()
	unsub()
	require.NoError(t, s.Delete(ctx, "notifications", "n2"))
	assert.Len(t, snapshots, 3)
}

func TestStore_SubscribeStopsWithContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	calls := make(chan int, 10)
	_, err := s.Subscribe(ctx, "things", nil, func(recs []record.Record) { calls <- len(recs) })
	require.NoError(t, err)
	assert.Equal(t, 0, <-calls)

	cancel()
	require.Eventually(t, func() bool {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		return len(s.subs) == 0
	}, time.Second, 10*time.Millisecond)

	_, err = s.Create(context.Background(), "things", record.Document{})
	require.NoError(t, err)
	assert.Len(t, calls, 0)
}
