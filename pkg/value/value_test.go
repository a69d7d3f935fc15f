package value

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDict_PreservesInsertionOrder(t *testing.T) {
	d := NewDictValue()
	d.Set("z", NewInt(1))
	d.Set("a", NewInt(2))
	d.Set("m", NewInt(3))

	keys := []string{}
	for _, f := range d.Fields() {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"z", "a", "m"}, keys)

	// replacing keeps position
	d.Set("a", NewInt(9))
	assert.Equal(t, 3, d.Len())
	v, ok := d.Get("a")
	require.True(t, ok)
	i, _ := v.Int64()
	assert.Equal(t, int64(9), i)
}

func TestDict_SortKeys(t *testing.T) {
	d := NewDictValue()
	d.Set("z", NewInt(1))
	d.Set("a", NewInt(2))
	d.SortKeys()

	assert.Equal(t, "a", d.Fields()[0].Key)
	assert.Equal(t, "z", d.Fields()[1].Key)

	v, ok := d.Get("z")
	require.True(t, ok)
	i, _ := v.Int64()
	assert.Equal(t, int64(1), i)
}

func TestDict_Delete(t *testing.T) {
	d := NewDictValue()
	d.Set("a", NewInt(1))
	d.Set("b", NewInt(2))
	d.Set("c", NewInt(3))
	d.Delete("b")

	assert.Equal(t, 2, d.Len())
	_, ok := d.Get("b")
	assert.False(t, ok)
	v, ok := d.Get("c")
	require.True(t, ok)
	i, _ := v.Int64()
	assert.Equal(t, int64(3), i)
}

func TestValue_Accessors(t *testing.T) {
	// loose numeric coercion
	i, err := NewUint(7).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), i)

	u, err := NewInt(7).Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), u)

	_, err = NewInt(-1).Uint64()
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	b, err := NewInt(3).Bool()
	require.NoError(t, err)
	assert.True(t, b)

	f, err := NewInt(2).Float64()
	require.NoError(t, err)
	assert.Equal(t, 2.0, f)

	_, err = NewString("x").Int64()
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestValue_GetMissingField(t *testing.T) {
	v := NewDict()
	_, err := v.Get("nope")
	assert.True(t, errors.Is(err, ErrMissingField))

	_, err = NewInt(1).Get("nope")
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	d, err := v.GetDefault("nope", NewInt(5))
	require.NoError(t, err)
	i, _ := d.Int64()
	assert.Equal(t, int64(5), i)
}

func TestValue_CloneIsDeep(t *testing.T) {
	original := NewDict()
	dict, _ := original.Dict()
	dict.Set("list", NewList(NewInt(1)))

	clone := original.Clone()
	cloneList, err := clone.Get("list")
	require.NoError(t, err)
	require.NoError(t, cloneList.Append(NewInt(2)))

	originalList, _ := original.Get("list")
	items, _ := originalList.List()
	assert.Len(t, items, 1)
	assert.True(t, original.Equal(original.Clone()))
	assert.False(t, original.Equal(clone))
}
