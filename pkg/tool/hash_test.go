package tool_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ignatij/agentkernel/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		v := map[string]interface{}{"a": 1, "b": "two", "c": []interface{}{1, 2, 3}}
		h1, err := tool.Hash(v)
		require.NoError(t, err)
		h2, err := tool.Hash(v)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
		assert.Len(t, h1, 64)
	})

	t.Run("KeyOrderIndependent", func(t *testing.T) {
		h1, err := tool.Hash(map[string]interface{}{"a": 1, "b": 2})
		require.NoError(t, err)
		h2, err := tool.Hash(map[string]interface{}{"b": 2, "a": 1})
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("StructAndMapAgree", func(t *testing.T) {
		type payload struct {
			B int    `json:"b"`
			A string `json:"a"`
		}
		h1, err := tool.Hash(payload{A: "x", B: 2})
		require.NoError(t, err)
		h2, err := tool.Hash(map[string]interface{}{"a": "x", "b": 2})
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("DifferentValuesDiffer", func(t *testing.T) {
		h1, err := tool.Hash(map[string]interface{}{"n": 1})
		require.NoError(t, err)
		h2, err := tool.Hash(map[string]interface{}{"n": 2})
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("UnmarshalableValueFails", func(t *testing.T) {
		_, err := tool.Hash(map[string]interface{}{"bad": make(chan int)})
		assert.Error(t, err)
	})
}

func TestCanonicalJSON(t *testing.T) {
	out, err := tool.CanonicalJSON(map[string]interface{}{"z": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"z":1}`, string(out))
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	h, err := tool.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, tool.HashBytes([]byte("hello")), h)

	_, err = tool.HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
