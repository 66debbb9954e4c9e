package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacts_InsertionOrder(t *testing.T) {
	f := NewFacts().Set("c", 1).Set("a", 2).Set("b", 3)
	assert.Equal(t, []string{"c", "a", "b"}, f.Keys())

	// Updating an existing key keeps its original position.
	f.Set("a", 99)
	assert.Equal(t, []string{"c", "a", "b"}, f.Keys())

	v, ok := f.Get("a")
	require.True(t, ok)
	assert.Equal(t, 99, v)
}

func TestFacts_MarshalOrdered(t *testing.T) {
	f := NewFacts().Set("last_word", "echo").Set("attempts", 3.0).Set("ok", false)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{"last_word":"echo","attempts":3,"ok":false}`, string(data))
}

func TestFacts_UnmarshalPreservesOrder(t *testing.T) {
	var f Facts
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"y":{"nested":true},"x":[1,2]}`), &f))

	assert.Equal(t, []string{"z", "y", "x"}, f.Keys())

	nested, ok := f.Get("y")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"nested": true}, nested)
}

func TestFacts_UnmarshalRejectsNonObject(t *testing.T) {
	var f Facts
	assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), &f))
	assert.Error(t, json.Unmarshal([]byte(`"text"`), &f))
}

func TestFacts_Clone(t *testing.T) {
	f := NewFacts().Set("a", 1)
	c := f.Clone()

	c.Set("b", 2)
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, 2, c.Len())

	var nilFacts *Facts
	assert.Nil(t, nilFacts.Clone())
	assert.Equal(t, 0, nilFacts.Len())
	_, ok := nilFacts.Get("a")
	assert.False(t, ok)
}

func TestFacts_EmptyMarshals(t *testing.T) {
	data, err := json.Marshal(NewFacts())
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}
