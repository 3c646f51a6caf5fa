package core

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeChat(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"chat","room":"r1","payload":{"text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindChat, env.Type)
	assert.Equal(t, "r1", string(env.Room))
}

func TestDecodeEnvelopeSignal(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"signal","room":"r1","to":"bob","payload":{"kind":"offer","data":{"sdp":"x"}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindSignal, env.Type)
	assert.Equal(t, "bob", string(env.To))
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":            `{"type":`,
		"unknown type":        `{"type":"shout","room":"r1"}`,
		"server-only type":    `{"type":"ack"}`,
		"signal without to":   `{"type":"signal","room":"r1","payload":{"kind":"offer"}}`,
		"unknown signal kind": `{"type":"signal","room":"r1","to":"bob","payload":{"kind":"sdp"}}`,
		"room id too long":    `{"type":"join","room":"` + strings.Repeat("x", 80) + `"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(raw))
			require.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{Type: KindChat, Room: "r1", From: "alice", Seq: 7, Payload: []byte(`{"text":"hi"}`)}
	f, err := env.Encode()
	require.NoError(t, err)

	var got Envelope
	require.NoError(t, json.Unmarshal(f, &got))
	assert.Equal(t, env.Seq, got.Seq)
	assert.Equal(t, env.From, got.From)
}

func TestErrorEnvelope(t *testing.T) {
	env := ErrorEnvelope("r1", "busy")
	assert.Equal(t, KindError, env.Type)
	assert.Contains(t, string(env.Payload), "busy")
}
