package ids_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outbound-gateway/oagw/pkg/ids"
)

func TestNew_SetsRequestedFamily(t *testing.T) {
	id := ids.New(ids.Route)
	assert.Equal(t, ids.Route, id.Family)
	assert.False(t, id.IsZero())
}

func TestString_RendersFamilyTildeUUID(t *testing.T) {
	id := ids.New(ids.Upstream)
	s := id.String()
	assert.Contains(t, s, "ups~")
	assert.Equal(t, s[:4], "ups~")
}

func TestIsZero_TrueForZeroValue(t *testing.T) {
	var id ids.ID
	assert.True(t, id.IsZero())
	assert.False(t, ids.New(ids.Plugin).IsZero())
}

func TestParse_RoundTripsWithExpectedFamily(t *testing.T) {
	id := ids.New(ids.Plugin)
	parsed, err := ids.Parse(id.String(), ids.Plugin)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParse_AnyFamilyWhenNoneExpected(t *testing.T) {
	id := ids.New(ids.Route)
	parsed, err := ids.Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParse_WrongFamilyErrors(t *testing.T) {
	id := ids.New(ids.Route)
	_, err := ids.Parse(id.String(), ids.Upstream)
	assert.Error(t, err)
}

func TestParse_MalformedStringErrors(t *testing.T) {
	_, err := ids.Parse("not-an-id")
	assert.Error(t, err)

	_, err = ids.Parse("ups~not-a-uuid")
	assert.Error(t, err)
}

func TestMarshalUnmarshalJSON_RoundTrips(t *testing.T) {
	id := ids.New(ids.Upstream)

	b, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(b))

	var got ids.ID
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, id, got)
}

func TestUnmarshalJSON_MalformedErrors(t *testing.T) {
	var id ids.ID
	assert.Error(t, json.Unmarshal([]byte(`"garbage"`), &id))
}
