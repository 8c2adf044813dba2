package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackEscapes(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	Pack(&sb, `a+b\c`, '+')
	assert.Equal(t, `a\+b\\c+`, sb.String())

	got, next := Unpack(sb.String(), 0, '+')
	assert.Equal(t, `a+b\c`, got)
	assert.Equal(t, sb.Len(), next)
}

func TestPackListRoundTrip(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	PackList(&sb, []string{"x", "y+z", ""}, '+')
	sb.WriteString("tail")
	assert.True(t, strings.HasPrefix(sb.String(), "3+x+y\\+z++"))

	values, pos, err := UnpackList(sb.String(), 0, '+')
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y+z", ""}, values)
	assert.Equal(t, "tail", sb.String()[pos:])

	_, _, err = UnpackList("nope+", 0, '+')
	require.ErrorContains(t, err, "unpack list count")
}

func TestCategoryAttribute(t *testing.T) {
	t.Parallel()

	packed := PackCategoryAttribute("Enterprise:Legal", "Owner")
	assert.Equal(t, `Enterprise\:Legal:Owner:`, packed)
	cat, attr := UnpackCategoryAttribute(packed)
	assert.Equal(t, "Enterprise:Legal", cat)
	assert.Equal(t, "Owner", attr)
}

func TestBuilderSortsLists(t *testing.T) {
	t.Parallel()

	a := new(Builder).List([]string{"b", "a"}, '+').Char('-').Raw("123").String()
	b := new(Builder).List([]string{"a", "b"}, '+').Char('-').Raw("123").String()
	assert.Equal(t, a, b)
	assert.Equal(t, "2+a+b+-123", a)

	c := new(Builder).List([]string{"a", "c"}, '+').Char('-').Raw("123").String()
	assert.NotEqual(t, a, c)
}

func TestBuilderDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := []string{"z", "a"}
	new(Builder).List(in, '+')
	assert.Equal(t, []string{"z", "a"}, in)
	assert.Equal(t, "x:", new(Builder).Value("x", ':').String())
}
