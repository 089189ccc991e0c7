package codec

import (
	"encoding/json"
	"testing"

	"thinx-client/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity() models.DeviceIdentity {
	return models.DeviceIdentity{
		Alias:           "kitchen",
		Owner:           "owner-0001",
		APIKey:          "secret-api-key",
		UDID:            "d6ff2bb0-df34-11e7-b351-eb37822aa172",
		MAC:             "5CCF7FEE90E0",
		FirmwareVersion: "thinx-firmware-esp8266-1.0.0:2017-12-01",
		VersionID:       "1.0.0",
		CommitID:        "abc",
		Platform:        "platformio",
	}
}

func TestEncodeCheckin_AllFields(t *testing.T) {
	body, err := EncodeCheckin(testIdentity())
	require.NoError(t, err)

	var decoded map[string]map[string]string
	require.NoError(t, json.Unmarshal(body, &decoded))

	reg, ok := decoded["registration"]
	require.True(t, ok)
	assert.Equal(t, "5CCF7FEE90E0", reg["mac"])
	assert.Equal(t, "thinx-firmware-esp8266-1.0.0:2017-12-01", reg["firmware"])
	assert.Equal(t, "1.0.0", reg["version"])
	assert.Equal(t, "abc", reg["commit"])
	assert.Equal(t, "owner-0001", reg["owner"])
	assert.Equal(t, "kitchen", reg["alias"])
	assert.Equal(t, "d6ff2bb0-df34-11e7-b351-eb37822aa172", reg["udid"])
	assert.Equal(t, "platformio", reg["platform"])
}

func TestEncodeCheckin_OmitsShortUDID(t *testing.T) {
	id := testIdentity()
	id.UDID = "1234"

	body, err := EncodeCheckin(id)
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	_, ok := decoded["registration"]["udid"]
	assert.False(t, ok)
}

func TestDecode_SingleMarker(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		kind    models.EnvelopeKind
		fields  map[string]any
	}{
		{
			name:    "registration",
			payload: `{"registration":{"success":true,"status":"OK","alias":"a1","owner":"o1","udid":"u-12345","commit":"c1","version":"v1"}}`,
			kind:    models.KindRegistration,
			fields: map[string]any{
				"success": true, "status": "OK", "alias": "a1", "owner": "o1",
				"udid": "u-12345", "commit": "c1", "version": "v1",
			},
		},
		{
			name:    "update",
			payload: `{"update":{"mac":"5CCF7FEE90E0","commit":"c2","version":"v2","url":"http://cdn/x.bin"}}`,
			kind:    models.KindUpdate,
			fields: map[string]any{
				"mac": "5CCF7FEE90E0", "commit": "c2", "version": "v2", "url": "http://cdn/x.bin",
			},
		},
		{
			name:    "notification",
			payload: `{"notification":{"response_type":"bool","response":true}}`,
			kind:    models.KindNotification,
			fields:  map[string]any{"response_type": "bool", "response": true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Decode([]byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.kind, env.Kind)
			assert.Equal(t, tc.fields, env.Fields)
		})
	}
}

func TestDecode_ToleratesSurroundingText(t *testing.T) {
	payload := "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nConnection: close\r\n\r\n" +
		`{ "registration" : {"status":"OK","commit":"abc"}}` + "\r\n0\r\n"

	env, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, models.KindRegistration, env.Kind)
	assert.Equal(t, "OK", env.String("status"))
	assert.Equal(t, "abc", env.String("commit"))
}

func TestDecode_BracesInsideStrings(t *testing.T) {
	payload := `{"update":{"url":"http://cdn/}{weird}.bin","commit":"c"}} trailing }}`

	env, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/}{weird}.bin", env.String("url"))
}

func TestDecode_MarkerPrecedence(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		kind    models.EnvelopeKind
	}{
		{
			name:    "registration after update wins",
			payload: `{"update":{"commit":"u"}} {"registration":{"status":"OK"}}`,
			kind:    models.KindRegistration,
		},
		{
			name:    "update after registration wins",
			payload: `{"registration":{"status":"OK"}} {"update":{"commit":"u"}}`,
			kind:    models.KindUpdate,
		},
		{
			name:    "notification after registration wins",
			payload: `{"registration":{"status":"OK"}} {"notification":{"response_type":"bool","response":true}}`,
			kind:    models.KindNotification,
		},
		{
			name:    "notification before update loses",
			payload: `{"notification":{"response_type":"bool","response":true}} {"update":{"commit":"u"}}`,
			kind:    models.KindUpdate,
		},
		{
			name:    "right-most of three wins",
			payload: `{"notification":{"response":"no","response_type":"string"}} {"update":{}} {"registration":{"status":"OK"}}`,
			kind:    models.KindRegistration,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, start := Locate([]byte(tc.payload))
			require.GreaterOrEqual(t, start, 0)
			assert.Equal(t, tc.kind, kind)

			env, err := Decode([]byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.kind, env.Kind)
		})
	}
}

func TestDecode_MarkerAtOffsetZero(t *testing.T) {
	kind, start := Locate([]byte(`{"update":{}}`))
	assert.Equal(t, models.KindUpdate, kind)
	assert.Equal(t, 0, start)
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]string{
		"no marker":       `{"hello":"world"}`,
		"empty":           ``,
		"unbalanced":      `{"registration":{"status":"OK"}`,
		"invalid json":    `{"update":{"commit":}}`,
		"node not object": `{"update":"now"}`,
		"null node":       `{"notification":null}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrDecode)
		})
	}
}
