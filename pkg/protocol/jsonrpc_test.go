package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMarshaling(t *testing.T) {
	tests := []struct {
		name string
		id   RequestID
		want string
	}{
		{"string id", NewStringID("abc-1"), `"abc-1"`},
		{"int id", NewIntID(42), `42`},
		{"zero value", RequestID{}, `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestRequestIDUnmarshaling(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RequestID
		wantErr bool
	}{
		{"string", `"req-7"`, NewStringID("req-7"), false},
		{"integer", `17`, NewIntID(17), false},
		{"integral float", `17.0`, NewIntID(17), false},
		{"null", `null`, RequestID{}, false},
		{"fractional", `1.5`, RequestID{}, true},
		{"empty string", `""`, RequestID{}, true},
		{"bool", `true`, RequestID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id RequestID
			err := json.Unmarshal([]byte(tt.input), &id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestRequestIDAsMapKey(t *testing.T) {
	// IDs with the same value must collide; string "1" and int 1 must not.
	m := map[RequestID]string{}
	m[NewIntID(1)] = "int"
	m[NewStringID("1")] = "string"

	assert.Len(t, m, 2)
	assert.Equal(t, "int", m[NewIntID(1)])
	assert.Equal(t, "string", m[NewStringID("1")])
}

func TestNewRequestPreservesRawParams(t *testing.T) {
	raw := json.RawMessage(`{"key":"value","nested":{"n":1}}`)
	req, err := NewRequest(NewIntID(1), "test/method", raw)
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(req.Params))
}

func TestNewResponseDefaultsResult(t *testing.T) {
	resp, err := NewResponse(NewIntID(3), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(resp.Result))
}

func TestParseMessageClassification(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind MessageKind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"echo","params":{}}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`, KindNotification},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`, KindResponse},
		{"error", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`, KindError},
		{"string id request", `{"jsonrpc":"2.0","id":"a","method":"echo"}`, KindRequest},
		{"null result response", `{"jsonrpc":"2.0","id":1,"result":null}`, KindResponse},
		{"null id error", `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, KindError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind)
		})
	}
}

func TestParseMessageRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"echo"}`},
		{"missing version", `{"id":1,"method":"echo"}`},
		{"no method no id", `{"jsonrpc":"2.0"}`},
		{"id without result or error", `{"jsonrpc":"2.0","id":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParseErrorRecoversID(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		wantID RequestID
	}{
		{"shape error with int id", `{"jsonrpc":"2.0","id":5}`, NewIntID(5)},
		{"version error with string id", `{"jsonrpc":"1.0","id":"r1","method":"x"}`, NewStringID("r1")},
		{"syntax error", `{"jsonrpc":"2.0",`, RequestID{}},
		{"no id", `{"jsonrpc":"2.0"}`, RequestID{}},
		{"fractional id", `{"jsonrpc":"2.0","id":1.5}`, RequestID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.data))
			require.Error(t, err)

			var pe *MessageParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.wantID, pe.ID)
		})
	}
}

func TestParseMessageRoundTrip(t *testing.T) {
	// Result bytes survive parse and re-marshal unchanged.
	original := `{"jsonrpc":"2.0","id":9,"result":{"payload":[1,2,3],"deep":{"s":"x"}}}`
	msg, err := ParseMessage([]byte(original))
	require.NoError(t, err)
	require.Equal(t, KindResponse, msg.Kind)

	out, err := json.Marshal(msg.Response)
	require.NoError(t, err)
	assert.JSONEq(t, original, string(out))
}

func TestMessageID(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":"r1","method":"echo"}`))
	require.NoError(t, err)
	assert.Equal(t, NewStringID("r1"), msg.ID())

	notif, err := ParseMessage([]byte(`{"jsonrpc":"2.0","method":"echo"}`))
	require.NoError(t, err)
	assert.False(t, notif.ID().IsValid())
}
