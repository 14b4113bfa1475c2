package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromGoIntegralFloats(t *testing.T) {
	v, err := FromGo(float64(32))
	require.NoError(t, err)
	assert.Equal(t, IRInt(32), v)

	_, err = FromGo(0.5)
	assert.Error(t, err)
}

func TestIRObjectJSONRoundTrip(t *testing.T) {
	obj := IRObject{
		"handle": IRInt(9007199254740993), // above 2^53, must not lose precision
		"viewport": IRObject{
			"region": IRString("region1"),
		},
		"preview": IRBool(false),
		"ops":     IRArray{IRString("create"), IRString("reset")},
	}

	data, err := json.Marshal(obj)
	require.NoError(t, err)

	var decoded IRObject
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, obj, decoded)
}

func TestIRObjectUnmarshalRejectsNonObject(t *testing.T) {
	var obj IRObject
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &obj))
	assert.Error(t, json.Unmarshal([]byte(`{"x":1.25}`), &obj))
}

func TestMerge(t *testing.T) {
	base := IRObject{"a": IRInt(1), "b": IRInt(2)}
	merged := base.Merge(IRObject{"b": IRInt(3), "c": IRInt(4)})

	assert.Equal(t, IRObject{"a": IRInt(1), "b": IRInt(3), "c": IRInt(4)}, merged)
	assert.Equal(t, IRInt(2), base["b"], "Merge must not mutate the receiver")
}

func TestToGo(t *testing.T) {
	v := IRObject{
		"name":  IRString("scene1"),
		"count": IRInt(2),
		"flags": IRArray{IRBool(true)},
	}
	assert.Equal(t, map[string]any{
		"name":  "scene1",
		"count": int64(2),
		"flags": []any{true},
	}, ToGo(v))
}
