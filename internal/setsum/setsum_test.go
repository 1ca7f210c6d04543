package setsum_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/vlog/internal/setsum"
)

func TestCommutative(t *testing.T) {
	a := setsum.Of([]byte("a"))
	b := setsum.Of([]byte("b"))
	c := setsum.Of([]byte("c"))

	left := a.Plus(b).Plus(c)
	right := c.Plus(a).Plus(b)
	assert.Equal(t, left, right)
}

func TestInvertible(t *testing.T) {
	var s setsum.Setsum
	s.Insert([]byte("a"))
	s.Insert([]byte("b"))
	s.Insert([]byte("c"))

	withoutB := s.Minus(setsum.Of([]byte("b")))
	assert.Equal(t, setsum.Of([]byte("a")).Plus(setsum.Of([]byte("c"))), withoutB)

	s.Remove([]byte("b"))
	assert.Equal(t, withoutB, s)
}

func TestZeroIsIdentity(t *testing.T) {
	a := setsum.Of([]byte("a"))
	assert.Equal(t, a, a.Plus(setsum.Zero))
	assert.True(t, setsum.Zero.IsZero())
	assert.False(t, a.IsZero())
}

func TestOrderIndependent(t *testing.T) {
	items := [][]byte{[]byte("x"), []byte("y"), []byte("z"), []byte("w")}
	forward := setsum.FromItems(items)

	reversed := make([][]byte, len(items))
	for i, item := range items {
		reversed[len(items)-1-i] = item
	}
	backward := setsum.FromItems(reversed)
	assert.Equal(t, forward, backward)
}

func TestHexdigestRoundTrip(t *testing.T) {
	s := setsum.FromItems([][]byte{[]byte("hello"), []byte("world")})
	hexdigest := s.Hexdigest()

	parsed, err := setsum.Parse(hexdigest)
	require.NoError(t, err)
	assert.Equal(t, s, parsed)
}

func TestParseInvalid(t *testing.T) {
	_, err := setsum.Parse("not-hex")
	assert.Error(t, err)

	_, err = setsum.Parse("abcd")
	assert.Error(t, err)
}

func TestSplitSum(t *testing.T) {
	// setsum(A ∪ B) == setsum(A) + setsum(B) for disjoint A, B.
	all := [][]byte{[]byte("1"), []byte("2"), []byte("3"), []byte("4"), []byte("5")}
	a := all[:2]
	b := all[2:]

	full := setsum.FromItems(all)
	split := setsum.FromItems(a).Plus(setsum.FromItems(b))
	assert.Equal(t, full, split)
}
