package answer

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC) }
}

func TestStore_SetGet(t *testing.T) {
	t.Parallel()

	s := NewStore(fixedClock())
	s.Set("a", Text("yes"))

	assert.True(t, s.Get("a").Equal(Text("yes")))
	a, ok := s.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "2025-03-01T12:30:00.000Z", a.Timestamp)

	assert.True(t, s.Get("missing").IsNull())
}

func TestStore_EmptyTextReadsAsNull(t *testing.T) {
	t.Parallel()

	s := NewStore(fixedClock())
	s.Set("a", Text(""))

	assert.True(t, s.Get("a").IsNull())
	_, ok := s.Lookup("a")
	assert.True(t, ok, "the explicit empty answer is still stored")

	s.Set("b", List())
	assert.True(t, s.Get("b").IsList())
}

func TestStore_RemoveAndPrune(t *testing.T) {
	t.Parallel()

	s := NewStore(fixedClock())
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.Set("a", Text("1"))
	s.Set("b", Text("2"))
	s.Set("c", Text("3"))
	s.Remove("a")
	s.Remove("a")
	assert.Len(t, changes, 4)

	removed := s.Prune(func(id string) bool { return id == "b" })
	assert.Equal(t, []string{"c"}, removed)
	assert.Equal(t, 1, s.Len())
}

func TestStore_Replace(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("old", Text("x"))
	s.Replace(map[string]Answer{"new": {Value: List("a", "b"), Timestamp: "2024-01-01T00:00:00.000Z"}})

	all := s.All()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"new"}, keys)
}

func TestValue_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Value
	}{
		{`null`, Null()},
		{`"text"`, Text("text")},
		{`["a","b"]`, List("a", "b")},
		{`[]`, List()},
	}
	for _, tt := range tests {
		var got Value
		require.NoError(t, json.Unmarshal([]byte(tt.in), &got), tt.in)
		assert.True(t, tt.want.Equal(got), tt.in)

		out, err := json.Marshal(got)
		require.NoError(t, err)
		assert.JSONEq(t, tt.in, string(out))
	}

	var v Value
	assert.Error(t, json.Unmarshal([]byte(`42`), &v))
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &v))
}

func TestFromNative(t *testing.T) {
	t.Parallel()

	v, err := FromNative(true)
	require.NoError(t, err)
	assert.True(t, v.Equal(Text("true")))

	v, err = FromNative([]any{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, "x, y", v.String())

	_, err = FromNative(3.5)
	assert.Error(t, err)
}
