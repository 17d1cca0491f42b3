package flags

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/beacon/internal/dynval"
)

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantEnabled bool
		wantPayload bool
	}{
		{name: "plain true", input: `true`, wantEnabled: true},
		{name: "plain false", input: `false`, wantEnabled: false},
		{name: "detail enabled", input: `{"enabled": true}`, wantEnabled: true},
		{name: "detail disabled", input: `{"enabled": false}`, wantEnabled: false},
		{
			name:        "detail with payload",
			input:       `{"enabled": true, "payload": {"variant": "blue", "rollout": 25}}`,
			wantEnabled: true,
			wantPayload: true,
		},
		{name: "empty object", input: `{}`, wantEnabled: false},
		{name: "string falls back to disabled", input: `"variant-a"`, wantEnabled: false},
		{name: "number falls back to disabled", input: `42`, wantEnabled: false},
		{name: "array falls back to disabled", input: `[true]`, wantEnabled: false},
		{name: "null falls back to disabled", input: `null`, wantEnabled: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Value
			require.NoError(t, json.Unmarshal([]byte(tt.input), &v))
			require.Equal(t, tt.wantEnabled, v.Enabled())
			require.Equal(t, tt.wantPayload, v.Payload() != nil)
		})
	}
}

func TestUnmarshalPayloadValues(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"enabled": true, "payload": {"limit": 10}}`), &v))
	limit, ok := v.Payload()["limit"].AsInt()
	require.True(t, ok)
	require.Equal(t, int64(10), limit)
}

func TestMarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{name: "payload-less marshals as bool", v: Bool(true), want: `true`},
		{name: "disabled marshals as bool", v: Value{}, want: `false`},
		{
			name: "payload marshals as detail",
			v:    Detail(true, map[string]dynval.Value{"variant": dynval.Str("blue")}),
			want: `{"enabled":true,"payload":{"variant":"blue"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.v)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(data))

			var back Value
			require.NoError(t, json.Unmarshal(data, &back))
			require.Equal(t, tt.v.Enabled(), back.Enabled())
			require.Equal(t, len(tt.v.Payload()), len(back.Payload()))
		})
	}
}

func TestDecodeResponseMap(t *testing.T) {
	raw := `{"checkout-v2": true, "beta-banner": {"enabled": true, "payload": {"color": "red"}}, "broken": "???"}`
	var m map[string]Value
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Len(t, m, 3)
	require.True(t, m["checkout-v2"].Enabled())
	require.True(t, m["beta-banner"].Enabled())
	require.NotNil(t, m["beta-banner"].Payload())
	require.False(t, m["broken"].Enabled())
}
