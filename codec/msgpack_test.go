package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type record struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `msgpack:"tel" json:"phone"`
}

func TestMsgpackFallsBackToJSONTags(t *testing.T) {
	in := record{ID: "7", Name: "Ada", Phone: "555"}
	b, err := Msgpack[record]{}.Encode(in)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, msgpack.Unmarshal(b, &raw))
	require.Equal(t, "7", raw["id"])
	require.Equal(t, "555", raw["tel"])
	require.NotContains(t, raw, "ID")

	out, err := Msgpack[record]{}.Decode(b)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestLimitRejectsOversizedPayload(t *testing.T) {
	c := Limit[record]{Inner: JSON[record]{}, MaxDecode: 8}
	b, err := c.Encode(record{ID: "1", Name: "long enough"})
	require.NoError(t, err)
	_, err = c.Decode(b)
	require.Error(t, err)

	c.MaxDecode = 0
	got, err := c.Decode(b)
	require.NoError(t, err)
	require.Equal(t, "1", got.ID)
}
