package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerr "github.com/arkilian/flowgraph/internal/errors"
	"github.com/arkilian/flowgraph/internal/flow"
	"github.com/arkilian/flowgraph/internal/storage"
	"github.com/arkilian/flowgraph/pkg/types"
)

var rawSchema = types.MustParseSchema(
	"id STRING, timestamp BIGINT, message STRUCT<page:STRING, status:INT>")

var logsDesc = flow.SourceDescriptor{Prefix: "web_traffic_logs", Pattern: "*.json", Format: flow.FormatJSON}

func newStore(t *testing.T) *storage.LocalStorage {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

func putUnit(t *testing.T, s storage.ObjectStorage, name, content string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), "web_traffic_logs/"+name, []byte(content)))
}

func record(id string, status int) string {
	return fmt.Sprintf(`{"id":%q,"timestamp":1700000000000,"message":{"page":"/","status":%d}}`, id, status)
}

func TestReader_ReadsInLexicalOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	putUnit(t, s, "web_logs_2.json", record("b", 200))
	putUnit(t, s, "web_logs_1.json", record("a", 200))
	putUnit(t, s, "web_logs_3.json", record("c", 500))
	putUnit(t, s, "notes.txt", "ignored")

	r := NewReader(s, 2)
	res, err := r.Read(ctx, logsDesc, rawSchema, nil)
	require.NoError(t, err)

	require.Len(t, res.Units, 3)
	assert.Equal(t, "web_traffic_logs/web_logs_1.json", res.Units[0].ID)
	assert.Equal(t, "web_traffic_logs/web_logs_3.json", res.LastUnit)
	assert.Equal(t, 3, res.Consumed)
	assert.Empty(t, res.ParseErrors)

	rows := res.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].String("id"))
	assert.Equal(t, "c", rows[2].String("id"))
	assert.Equal(t, int64(500), rows[2].Int("message.status"))
	assert.Equal(t, Fingerprint([]byte(record("c", 500))), res.LastHash)
}

func TestReader_SkipsCoveredUnits(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i := 1; i <= 4; i++ {
		putUnit(t, s, fmt.Sprintf("web_logs_%d.json", i), record(fmt.Sprint(i), 200))
	}

	r := NewReader(s, 0)
	cp := &types.Checkpoint{Flow: "ingest", LastUnit: "web_traffic_logs/web_logs_2.json", UnitsConsumed: 2}

	pending, err := r.Pending(ctx, logsDesc, cp)
	require.NoError(t, err)
	assert.Equal(t, []string{"web_traffic_logs/web_logs_3.json", "web_traffic_logs/web_logs_4.json"}, pending)

	res, err := r.Read(ctx, logsDesc, rawSchema, cp)
	require.NoError(t, err)
	next := res.Advance("ingest", cp)
	require.NotNil(t, next)
	assert.Equal(t, "web_traffic_logs/web_logs_4.json", next.LastUnit)
	assert.Equal(t, int64(4), next.UnitsConsumed)

	// Nothing new: the same checkpoint yields an empty pass.
	res, err = r.Read(ctx, logsDesc, rawSchema, next)
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Nil(t, res.Advance("ingest", next))
}

func TestReader_MalformedUnitSkipped(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	putUnit(t, s, "web_logs_1.json", record("a", 200))
	putUnit(t, s, "web_logs_2.json", `{"id": "broken"`)
	putUnit(t, s, "web_logs_3.json", record("c", 200))

	res, err := NewReader(s, 2).Read(ctx, logsDesc, rawSchema, nil)
	require.NoError(t, err)

	assert.Len(t, res.Units, 2)
	require.Len(t, res.ParseErrors, 1)
	assert.True(t, errors.Is(res.ParseErrors[0], flowerr.ErrParse))
	assert.Equal(t, "web_traffic_logs/web_logs_2.json", flowerr.ParseErrorUnit(res.ParseErrors[0]))
	assert.Equal(t, 3, res.Consumed)
	assert.Equal(t, "web_traffic_logs/web_logs_3.json", res.LastUnit)
}

func TestReader_SoleMalformedUnitFails(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	putUnit(t, s, "web_logs_1.json", "not json at all")

	_, err := NewReader(s, 1).Read(ctx, logsDesc, rawSchema, nil)
	require.Error(t, err)
	assert.Equal(t, flowerr.CodeNoValidUnits, flowerr.GetCode(err))
	assert.True(t, errors.Is(err, flowerr.ErrParse))
}

func TestReader_AllMalformedUnitsFail(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	putUnit(t, s, "web_logs_1.json", "{bad")
	putUnit(t, s, "web_logs_2.json", "{bad")

	res, err := NewReader(s, 2).Read(ctx, logsDesc, rawSchema, nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, flowerr.CodeNoValidUnits, flowerr.GetCode(err))
}

func TestReader_EmptyUnitBesideMalformedIsValid(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	putUnit(t, s, "web_logs_1.json", "")
	putUnit(t, s, "web_logs_2.json", "{bad")

	res, err := NewReader(s, 2).Read(ctx, logsDesc, rawSchema, nil)
	require.NoError(t, err)
	assert.Len(t, res.Units, 1)
	assert.Len(t, res.ParseErrors, 1)
}

func TestReader_EmptyPrefix(t *testing.T) {
	res, err := NewReader(newStore(t), 1).Read(context.Background(), logsDesc, rawSchema, nil)
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Empty(t, res.Rows())
}

type slowStorage struct {
	storage.ObjectStorage
	delay time.Duration
}

func (s slowStorage) Get(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-time.After(s.delay):
		return s.ObjectStorage.Get(ctx, path)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestReader_ContextDeadline(t *testing.T) {
	s := newStore(t)
	putUnit(t, s, "web_logs_1.json", record("a", 200))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewReader(slowStorage{ObjectStorage: s, delay: time.Second}, 1).Read(ctx, logsDesc, rawSchema, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type failingList struct{ storage.ObjectStorage }

func (failingList) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	return nil, storage.ErrListFailed
}

func TestReader_ListFailure(t *testing.T) {
	_, err := NewReader(failingList{newStore(t)}, 1).Read(context.Background(), logsDesc, rawSchema, nil)
	require.Error(t, err)
	assert.Equal(t, flowerr.CodeListFailed, flowerr.GetCode(err))
	assert.True(t, flowerr.IsRetryable(err))
}
