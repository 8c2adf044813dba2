package crawler

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigParamsEncodeDecode(t *testing.T) {
	t.Parallel()

	p := NewConfigParams()
	p.Set("serverName", "cs.example.com")
	p.Set("serverPort", "2099")
	p.SetObfuscated("serverPassword", "s3cret")

	blob, err := p.Encode()
	require.NoError(t, err)
	assert.NotContains(t, blob, "s3cret")

	got, err := DecodeConfigParams(blob)
	require.NoError(t, err)
	assert.True(t, p.Equal(got))
	assert.Equal(t, "s3cret", got.GetObfuscated("serverPassword"))
	assert.Equal(t, []string{"serverName", "serverPort"}, got.Names())
}

func TestDecodeConfigParamsErrors(t *testing.T) {
	t.Parallel()

	empty, err := DecodeConfigParams("")
	require.NoError(t, err)
	assert.Empty(t, empty.Names())

	_, err = DecodeConfigParams("{not json")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "decode config params:"))

	_, err = DecodeConfigParams(`{"obfuscated":{"pw":"%%%"}}`)
	require.ErrorContains(t, err, `decode obfuscated param "pw"`)
}

func TestConfigParamsZeroValueAndClone(t *testing.T) {
	t.Parallel()

	var p ConfigParams
	assert.Equal(t, "", p.Get("missing"))
	p.Set("a", "1")
	p.SetObfuscated("b", "2")

	c := p.Clone()
	c.Set("a", "changed")
	assert.Equal(t, "1", p.Get("a"))
	assert.False(t, p.Equal(c))
}

func TestConfigParamsJSONRoundTripCarriesSecrets(t *testing.T) {
	t.Parallel()

	var p ConfigParams
	require.NoError(t, json.Unmarshal([]byte(`{"params":{"userName":"bob"},"obfuscated":{"password":"pw"}}`), &p))
	assert.Equal(t, "bob", p.Get("userName"))
	assert.Equal(t, "pw", p.GetObfuscated("password"))

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"params":{"userName":"bob"},"obfuscated":{"password":"pw"}}`, string(data))
}

func TestConfigParamsRedacted(t *testing.T) {
	t.Parallel()

	p := NewConfigParams()
	p.Set("userName", "bob")
	p.SetObfuscated("password", "pw")

	r := p.Redacted()
	assert.Equal(t, "bob", r.Get("userName"))
	assert.Equal(t, RedactedValue, r.GetObfuscated("password"))
	assert.Equal(t, "pw", p.GetObfuscated("password"))
}
