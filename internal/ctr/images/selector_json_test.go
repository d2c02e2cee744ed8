package images

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorUnmarshalRoundTrips(t *testing.T) {
	id := ImageID("0000000000000000000000000000000000000000000000000000000000000000")
	sel := ByID(id)

	data, err := json.Marshal(sel)
	require.NoError(t, err)

	var out Selector
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.ID)
	assert.Equal(t, id, *out.ID)
}

func TestSelectorUnmarshalRejectsUnknownField(t *testing.T) {
	var sel Selector
	err := json.Unmarshal([]byte(`{"id": "0000000000000000000000000000000000000000000000000000000000000000", "bogus": true}`), &sel)
	require.Error(t, err)
}
