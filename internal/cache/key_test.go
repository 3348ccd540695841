package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_ReadablePrefix(t *testing.T) {
	key := Key("billing", "/v1/charge", "post", []byte(`{"amount":100}`), nil)
	assert.True(t, strings.HasPrefix(key, "billing|POST|/v1/charge|"), key)
}

func TestKey_VolatileFieldsDoNotSplitTheCache(t *testing.T) {
	ignore := []string{"request_id", "meta.timestamp"}

	a := Key("billing", "/v1/charge", "POST",
		[]byte(`{"amount":100,"request_id":"r-1","meta":{"timestamp":1}}`), ignore)
	b := Key("billing", "/v1/charge", "POST",
		[]byte(`{"amount":100,"request_id":"r-2","meta":{"timestamp":2}}`), ignore)
	assert.Equal(t, a, b, "keys must match when only ignored fields differ")

	c := Key("billing", "/v1/charge", "POST",
		[]byte(`{"amount":250,"request_id":"r-1","meta":{"timestamp":1}}`), ignore)
	assert.NotEqual(t, a, c, "a real payload change must change the key")
}

func TestKey_DistinguishesServiceEndpointMethod(t *testing.T) {
	payload := []byte(`{"q":"x"}`)
	base := Key("search", "/v1/query", "POST", payload, nil)

	assert.NotEqual(t, base, Key("billing", "/v1/query", "POST", payload, nil))
	assert.NotEqual(t, base, Key("search", "/v2/query", "POST", payload, nil))
	assert.NotEqual(t, base, Key("search", "/v1/query", "GET", payload, nil))
}

func TestKey_NonJSONPayloadHashedVerbatim(t *testing.T) {
	a := Key("files", "/upload", "POST", []byte("raw bytes"), []string{"request_id"})
	b := Key("files", "/upload", "POST", []byte("raw bytes"), []string{"request_id"})
	c := Key("files", "/upload", "POST", []byte("other bytes"), []string{"request_id"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestKey_EmptyPayload(t *testing.T) {
	a := Key("search", "/v1/query", "GET", nil, nil)
	b := Key("search", "/v1/query", "GET", []byte{}, nil)
	assert.Equal(t, a, b, "nil and empty payloads fingerprint identically")
}
