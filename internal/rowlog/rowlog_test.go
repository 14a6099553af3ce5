package rowlog_test

import (
	"testing"

	"github.com/beads-db/kernel/internal/name"
	"github.com/beads-db/kernel/internal/rowlog"
	"github.com/stretchr/testify/assert"
)

type fakeRow struct {
	id    int64
	table *name.Name
}

func (r *fakeRow) RowID() int64          { return r.id }
func (r *fakeRow) TableName() *name.Name { return r.table }

func TestAppendAndGet(t *testing.T) {
	var log rowlog.Log
	table := &name.Name{Local: "T"}
	log.Append(rowlog.Action{Session: 1, Table: table, Store: &fakeRow{id: 1, table: table}, Kind: rowlog.Insert})
	log.Append(rowlog.Action{Session: 1, Table: table, Store: &fakeRow{id: 2, table: table}, Kind: rowlog.Delete})

	assert.Equal(t, 2, log.Size())
	assert.Equal(t, rowlog.Insert, log.Get(0).Kind)
	assert.Equal(t, rowlog.Delete, log.Get(1).Kind)
}

func TestSliceReturnsTail(t *testing.T) {
	var log rowlog.Log
	table := &name.Name{Local: "T"}
	for i := 0; i < 5; i++ {
		log.Append(rowlog.Action{Store: &fakeRow{id: int64(i), table: table}})
	}
	tail := log.Slice(3)
	assert.Len(t, tail, 2)
	assert.Equal(t, int64(3), tail[0].Store.RowID())
}

func TestTruncateDiscardsFromIndex(t *testing.T) {
	var log rowlog.Log
	table := &name.Name{Local: "T"}
	for i := 0; i < 4; i++ {
		log.Append(rowlog.Action{Store: &fakeRow{id: int64(i), table: table}})
	}
	log.Truncate(2)
	assert.Equal(t, 2, log.Size())
	assert.Equal(t, int64(0), log.Get(0).Store.RowID())
	assert.Equal(t, int64(1), log.Get(1).Store.RowID())
}

func TestResetClearsLog(t *testing.T) {
	var log rowlog.Log
	log.Append(rowlog.Action{Kind: rowlog.Insert})
	log.Reset()
	assert.Equal(t, 0, log.Size())
}
