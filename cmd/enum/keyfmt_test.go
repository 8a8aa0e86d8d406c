package enum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyFormat(t *testing.T) {
	require.Equal(t, KeyFormats.PEM, ParseKeyFormat("pem"))
	require.Equal(t, KeyFormats.JSON, ParseKeyFormat("JSON"))
	require.False(t, ParseKeyFormat("der").IsValid())
	require.Equal(t, "pem", KeyFormats.PEM.Ext())
	require.Equal(t, []string{"JSON", "PEM"}, KeyFormats.Names())

	f, err := KeyFormatFromPath("/keys/node.JSON")
	require.NoError(t, err)
	require.Equal(t, KeyFormats.JSON, f)

	_, err = KeyFormatFromPath("/keys/node")
	require.Error(t, err)

	var k KeyFormat
	require.NoError(t, k.UnmarshalJSON([]byte(`"PEM"`)))
	require.Equal(t, KeyFormats.PEM, k)
	b, err := KeyFormats.JSON.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"JSON"`, string(b))
}
