package classifier_test

import (
	"testing"

	"thinx-client/internal/classifier"
	"thinx-client/internal/codec"
	"thinx-client/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classify(t *testing.T, payload string) (classifier.Record, error) {
	t.Helper()
	env, err := codec.Decode([]byte(payload))
	require.NoError(t, err)
	return classifier.Classify(env)
}

func TestClassify_Registration(t *testing.T) {
	rec, err := classify(t, `{"registration":{"success":true,"status":"OK","alias":"hall","owner":"owner-0001","udid":"u-123456","commit":"xyz","version":"1.1","url":"http://cdn/x.bin"}}`)
	require.NoError(t, err)

	reg, ok := rec.(*classifier.Registration)
	require.True(t, ok)
	assert.Equal(t, models.KindRegistration, reg.Kind())
	assert.True(t, reg.Success)
	assert.True(t, reg.HasSuccess)
	assert.Equal(t, classifier.StatusOK, reg.Status)
	assert.Equal(t, "hall", reg.Alias)
	assert.Equal(t, "owner-0001", reg.Owner)
	assert.Equal(t, "u-123456", reg.UDID)
	assert.Equal(t, "xyz", reg.Commit)
	assert.Equal(t, "1.1", reg.Version)
	assert.Equal(t, "http://cdn/x.bin", reg.URL)
}

func TestClassify_RegistrationOptionalFieldsDefaultEmpty(t *testing.T) {
	rec, err := classify(t, `{"registration":{"status":"OK"}}`)
	require.NoError(t, err)

	reg := rec.(*classifier.Registration)
	assert.False(t, reg.HasSuccess)
	assert.Empty(t, reg.Alias)
	assert.Empty(t, reg.Owner)
	assert.Empty(t, reg.URL)
	assert.Empty(t, reg.UDID)
}

func TestClassify_RegistrationWithoutMarker(t *testing.T) {
	_, err := classify(t, `{"registration":{"alias":"hall"}}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.ErrorIs(t, err, models.ErrDecode)
}

func TestClassify_Update(t *testing.T) {
	rec, err := classify(t, `{"update":{"mac":"5CCF7FEE90E0","commit":"c2","version":"2"}}`)
	require.NoError(t, err)

	upd := rec.(*classifier.Update)
	assert.Equal(t, "5CCF7FEE90E0", upd.MAC)
	assert.Equal(t, "c2", upd.Commit)
	assert.Equal(t, "2", upd.Version)
	assert.Empty(t, upd.URL)
}

func TestClassify_NotificationWithoutResponse(t *testing.T) {
	_, err := classify(t, `{"notification":{"response_type":"bool"}}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestClassify_UnknownKind(t *testing.T) {
	_, err := classifier.Classify(models.Envelope{Kind: models.KindUnknown})
	assert.ErrorIs(t, err, models.ErrDecode)
}

func TestNotification_Approval(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		approved bool
		ok       bool
	}{
		{"bool true", `{"notification":{"response_type":"bool","response":true}}`, true, true},
		{"boolean false", `{"notification":{"response_type":"boolean","response":false}}`, false, true},
		{"string yes", `{"notification":{"response_type":"string","response":"yes"}}`, true, true},
		{"String no", `{"notification":{"response_type":"String","response":"no"}}`, false, true},
		{"string maybe", `{"notification":{"response_type":"string","response":"maybe"}}`, false, false},
		{"unknown type", `{"notification":{"response_type":"int","response":1}}`, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := classify(t, tc.payload)
			require.NoError(t, err)

			approved, ok := rec.(*classifier.Notification).Approval()
			assert.Equal(t, tc.approved, approved)
			assert.Equal(t, tc.ok, ok)
		})
	}
}
