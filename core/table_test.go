package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixTable_SetKeepsFirstPositionAndLastValue(t *testing.T) {
	table := NewPrefixTable(0)
	table.Set("1201", "New Jersey")
	table.Set("1202", "Washington D.C.")
	table.Set("1201", "NJ")

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, []string{"1201", "1202"}, table.Keys())
	desc, ok := table.Get("1201")
	require.True(t, ok)
	assert.Equal(t, "NJ", desc)
}

func TestPrefixTable_EmptyDescriptionIsAValue(t *testing.T) {
	table := PrefixTableFromPairs("44", "")

	desc, ok := table.Get("44")
	assert.True(t, ok)
	assert.Equal(t, "", desc)
	assert.True(t, table.Has("44"))

	_, ok = table.Get("4")
	assert.False(t, ok)
}

func TestPrefixTable_DeleteDuringRange(t *testing.T) {
	table := PrefixTableFromPairs("1", "a", "2", "b", "3", "c", "4", "d")

	var visited []string
	table.Range(func(prefix, _ string) bool {
		visited = append(visited, prefix)
		if prefix == "2" || prefix == "3" {
			table.Delete(prefix)
		}
		return true
	})

	assert.Equal(t, []string{"1", "2", "3", "4"}, visited)
	assert.Equal(t, []string{"1", "4"}, table.Keys())
	assert.Equal(t, 2, table.Len())
	assert.False(t, table.Delete("2"), "deleting twice must report false")
}

func TestPrefixTable_SetAfterDeleteAppends(t *testing.T) {
	table := PrefixTableFromPairs("1", "a", "2", "b")
	table.Delete("1")
	table.Set("1", "again")

	assert.Equal(t, []string{"2", "1"}, table.Keys())
}

func TestPrefixTable_RangeStopsEarly(t *testing.T) {
	table := PrefixTableFromPairs("1", "a", "2", "b", "3", "c")
	count := 0
	table.Range(func(string, string) bool {
		count++
		return count < 2
	})
	assert.Equal(t, 2, count)
}

func TestPrefixTable_CloneIsIndependent(t *testing.T) {
	table := PrefixTableFromPairs("1", "a", "2", "b")
	table.Delete("1")
	clone := table.Clone()
	clone.Set("3", "c")

	assert.Equal(t, []string{"2"}, table.Keys())
	assert.Equal(t, []string{"2", "3"}, clone.Keys())
	assert.Equal(t, map[string]string{"2": "b", "3": "c"}, clone.Map())
}

func TestPrefixTable_NilIsEmpty(t *testing.T) {
	var table *PrefixTable
	assert.Equal(t, 0, table.Len())
	table.Range(func(string, string) bool {
		t.Fatal("nil table must not call fn")
		return false
	})
}
