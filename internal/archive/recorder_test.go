package archive

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolectl/internal/encryption"
	"rolectl/internal/model"
	"rolectl/internal/testutil"
)

func sampleRecord() *model.ChangeRecord {
	return &model.ChangeRecord{
		Action:   "update",
		ServerID: "s1",
		RoleID:   "r1",
		Patch:    map[string]any{"name": "Moderator"},
		Before:   &model.Role{ID: "r1", ServerID: "s1", Name: "Mod"},
		After:    &model.Role{ID: "r1", ServerID: "s1", Name: "Moderator"},
	}
}

func TestRecorder_PlainRoundTrip(t *testing.T) {
	clock := testutil.FixedClock()
	r := NewRecorder(NewMemoryArchive("mem"), nil, clock, testutil.NewStubIDGenerator())

	key, err := r.Record(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, "s1/20240115T103000.000000000Z-id-1.json", key)
	assert.False(t, IsSealed(key))

	var raw bytes.Buffer
	require.NoError(t, r.Archive().Get(key, &raw))
	assert.Contains(t, raw.String(), `"name": "Moderator"`)

	got, err := r.Load(key, nil)
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, "update", got.Action)
	assert.Equal(t, "Moderator", got.Patch["name"])
	assert.Equal(t, "Mod", got.Before.Name)
	assert.True(t, got.RecordedAt.Equal(clock.Now()))
}

func TestRecorder_Sealed(t *testing.T) {
	enc := encryption.NewTestEncryptor()
	r := NewRecorder(NewMemoryArchive("mem"), enc, testutil.FixedClock(), testutil.NewStubIDGenerator())

	key, err := r.Record(sampleRecord())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".json.age"))
	assert.True(t, IsSealed(key))

	_, err = r.Load(key, nil)
	assert.Error(t, err, "sealed records need a decryption context")

	dec, err := enc.Unlock("")
	require.NoError(t, err)
	got, err := r.Load(key, dec)
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RoleID)
}

func TestRecorder_ListOrdersByTime(t *testing.T) {
	clock := testutil.FixedClock()
	r := NewRecorder(NewMemoryArchive("mem"), nil, clock, testutil.NewStubIDGenerator())

	first, err := r.Record(sampleRecord())
	require.NoError(t, err)
	clock.Advance(1500)
	second, err := r.Record(sampleRecord())
	require.NoError(t, err)

	other := sampleRecord()
	other.ServerID = "s2"
	_, err = r.Record(other)
	require.NoError(t, err)

	keys, err := r.List("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, keys)

	all, err := r.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecorder_RequiresServer(t *testing.T) {
	r := NewRecorder(NewMemoryArchive("mem"), nil, nil, nil)
	_, err := r.Record(&model.ChangeRecord{Action: "delete"})
	assert.Error(t, err)
}
