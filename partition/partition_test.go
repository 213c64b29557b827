package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/phoneprefix/core"
)

func TestSplit_FirstMatchWins(t *testing.T) {
	table := core.PrefixTableFromPairs(
		"8610", "Beijing",
		"86755", "Shenzhen",
		"861301", "Beijing mobile",
	)
	buckets := []core.BucketPrefix{"8610", "86", "86130"}

	res, err := Split(table, buckets, Options{Source: "en/86.txt"})
	require.NoError(t, err)
	require.Len(t, res.Shards, 3)

	assert.Equal(t, []string{"8610"}, res.Shards[0].Table.Keys())
	assert.Equal(t, []string{"86755", "861301"}, res.Shards[1].Table.Keys())
	assert.Equal(t, 0, res.Shards[2].Table.Len(), "planned buckets stay even when empty")
	assert.Nil(t, res.Unmatched)

	assert.Equal(t, []uint32{0}, res.Shards[0].Members.ToArray())
	assert.Equal(t, []uint32{1, 2}, res.Shards[1].Members.ToArray())
	assert.True(t, res.Shards[2].Members.IsEmpty())
}

func TestSplit_Completeness(t *testing.T) {
	table := core.PrefixTableFromPairs(
		"1201", "NJ",
		"12015", "",
		"1212", "NYC",
		"1212555", "Manhattan",
		"1312", "Chicago",
	)
	buckets := []core.BucketPrefix{"1201", "1212", "1312"}

	res, err := Split(table, buckets, Options{})
	require.NoError(t, err)

	union := map[string]string{}
	for _, s := range res.All() {
		s.Table.Range(func(prefix, description string) bool {
			_, dup := union[prefix]
			assert.False(t, dup, "prefix %s assigned twice", prefix)
			assert.True(t, s.Bucket.Matches(prefix))
			union[prefix] = description
			return true
		})
	}
	assert.Equal(t, table.Map(), union)
	assert.NoError(t, res.Verify(table.Len()))
}

func TestResult_Verify(t *testing.T) {
	table := core.PrefixTableFromPairs("1201", "NJ", "1212", "NYC", "1312", "Chicago")
	buckets := []core.BucketPrefix{"1201", "1212", "1312"}

	t.Run("overlapping buckets", func(t *testing.T) {
		res, err := Split(table, buckets, Options{})
		require.NoError(t, err)
		res.Shards[2].Members.Add(1)
		res.Shards[2].Table.Set("1212", "NYC")

		err = res.Verify(table.Len())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket 1312 shares 1 entries")
	})

	t.Run("entry left out", func(t *testing.T) {
		res, err := Split(table, buckets, Options{})
		require.NoError(t, err)
		res.Shards[0].Members.Remove(0)
		res.Shards[0].Table = core.NewPrefixTable(0)

		err = res.Verify(table.Len())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 3 entries were not routed (first ordinal 0)")
	})

	t.Run("members disagree with table", func(t *testing.T) {
		res, err := Split(table, buckets, Options{})
		require.NoError(t, err)
		res.Shards[1].Table.Set("12125", "Manhattan")

		err = res.Verify(table.Len())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket 1212 holds 2 entries but 1 members")
	})

	t.Run("catch-all members count", func(t *testing.T) {
		res, err := Split(core.PrefixTableFromPairs("1201", "NJ", "999", "nowhere"), []core.BucketPrefix{"1201"},
			Options{OnMiss: MissCatchAll, CountryCode: 1})
		require.NoError(t, err)
		assert.Equal(t, []uint32{1}, res.UnmatchedMembers.ToArray())
		assert.NoError(t, res.Verify(2))
		assert.Error(t, res.Verify(3))
	})
}

func TestSplit_MissIsError(t *testing.T) {
	table := core.PrefixTableFromPairs("1201", "NJ", "999", "nowhere")

	_, err := Split(table, []core.BucketPrefix{"1201"}, Options{Source: "de/1.txt"})
	require.Error(t, err)
	assert.True(t, core.IsPartitionMiss(err))
	assert.Contains(t, err.Error(), "'999'")
	assert.Contains(t, err.Error(), "de/1.txt")
}

func TestSplit_MissCatchAll(t *testing.T) {
	table := core.PrefixTableFromPairs("1201", "NJ", "999", "nowhere")

	res, err := Split(table, []core.BucketPrefix{"1201"}, Options{OnMiss: MissCatchAll, CountryCode: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Unmatched)
	assert.Equal(t, map[string]string{"999": "nowhere"}, res.Unmatched.Map())

	all := res.All()
	require.Len(t, all, 2)
	assert.Equal(t, core.BucketPrefix("1-unmatched"), all[1].Bucket)
}

func TestSplit_EmptyTable(t *testing.T) {
	res, err := Split(core.NewPrefixTable(0), []core.BucketPrefix{"44"}, Options{})
	require.NoError(t, err)
	require.Len(t, res.Shards, 1)
	assert.NoError(t, res.Verify(0))
}

func TestRoute(t *testing.T) {
	buckets := []core.BucketPrefix{"1201", "1212"}
	assert.Equal(t, 1, Route("12125550000", buckets))
	assert.Equal(t, 0, Route("1201", buckets))
	assert.Equal(t, -1, Route("120", buckets))
}

func TestParseMissPolicy(t *testing.T) {
	p, err := ParseMissPolicy("catchall")
	require.NoError(t, err)
	assert.Equal(t, MissCatchAll, p)

	p, err = ParseMissPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MissError, p)
	assert.Equal(t, "error", p.String())

	_, err = ParseMissPolicy("drop")
	assert.Error(t, err)
}
