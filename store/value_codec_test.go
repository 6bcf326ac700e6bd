package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
)

func TestValueCodecRoundTrip(t *testing.T) {
	tests := map[string]core.Value{
		"null":    core.NullValue(),
		"bool":    core.BoolValue(true),
		"integer": core.IntegerValue(-42),
		"float":   core.FloatValue(3.5),
		"string":  core.StringValue("hello"),
		"bytes":   core.BytesValue([]byte{0x01, 0x02, 0x03}),
		"sequence": core.SequenceValue([]core.Value{
			core.IntegerValue(1),
			core.StringValue("two"),
			core.BoolValue(false),
		}),
		"mapping": core.MappingValue(map[string]core.Value{
			"a": core.IntegerValue(1),
			"b": core.StringValue("x"),
		}),
	}

	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			encoded, err := EncodeValue(v)
			require.NoError(t, err)

			decoded, err := DecodeValue(encoded)
			require.NoError(t, err)
			assert.Equal(t, v.Kind(), decoded.Kind())
			assert.Equal(t, v.GoString(), decoded.GoString())
		})
	}
}

func TestDecodeValueEmptyBytesIsNull(t *testing.T) {
	v, err := DecodeValue(nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	v, err = DecodeValue([]byte{})
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestValueCodecNestedSequenceOfMappings(t *testing.T) {
	v := core.SequenceValue([]core.Value{
		core.MappingValue(map[string]core.Value{"k": core.IntegerValue(7)}),
		core.MappingValue(map[string]core.Value{"k": core.IntegerValue(8)}),
	})

	encoded, err := EncodeValue(v)
	require.NoError(t, err)
	decoded, err := DecodeValue(encoded)
	require.NoError(t, err)
	assert.Equal(t, v.GoString(), decoded.GoString())
}
