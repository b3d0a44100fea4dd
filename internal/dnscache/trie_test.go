package dnscache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInsertAndLookupRoundTrip(t *testing.T) {
	c := New()
	require.NoError(t, c.Insert("www.example.com.", []byte("answer-bytes"), time.Minute))

	got, ok := c.Lookup("www.example.com.")
	require.True(t, ok)
	require.Equal(t, []byte("answer-bytes"), got)
	require.Equal(t, uint64(1), c.Hits())
}

func TestLookupMissingNameMisses(t *testing.T) {
	c := New()
	_, ok := c.Lookup("unknown.example.com.")
	require.False(t, ok)
	require.Equal(t, uint64(1), c.Misses())
}

func TestLookupExpiredEntryMissesAndClearsLeaf(t *testing.T) {
	c := New()
	require.NoError(t, c.Insert("stale.example.com.", []byte("x"), -time.Second))

	_, ok := c.Lookup("stale.example.com.")
	require.False(t, ok)

	_, ok = c.Lookup("stale.example.com.")
	require.False(t, ok)
}

func TestInsertRejectsNonAlphabetByte(t *testing.T) {
	c := New()
	err := c.Insert("exämple.com.", []byte("x"), time.Minute)
	require.Error(t, err)
}

func TestInsertAcceptsDigitsAndHyphens(t *testing.T) {
	c := New()
	require.NoError(t, c.Insert("host-42.example.com.", []byte("y"), time.Minute))

	got, ok := c.Lookup("host-42.example.com.")
	require.True(t, ok)
	require.Equal(t, []byte("y"), got)
}

func TestSharedPrefixesShareNodes(t *testing.T) {
	c := New()
	require.NoError(t, c.Insert("a.example.com.", []byte("1"), time.Minute))
	sizeAfterFirst := c.Size()

	require.NoError(t, c.Insert("a.example.org.", []byte("2"), time.Minute))
	sizeAfterSecond := c.Size()

	require.Less(t, sizeAfterSecond-sizeAfterFirst, len("a.example.org."))
}

func TestReinsertOverwritesEntry(t *testing.T) {
	c := New()
	require.NoError(t, c.Insert("dup.example.com.", []byte("old"), time.Minute))
	require.NoError(t, c.Insert("dup.example.com.", []byte("new"), time.Minute))

	got, ok := c.Lookup("dup.example.com.")
	require.True(t, ok)
	require.Equal(t, []byte("new"), got)
}
