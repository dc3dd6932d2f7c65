package signaling

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientEnvelope_Register(t *testing.T) {
	env, err := ParseClientEnvelope([]byte(`{"type":"register","display_name":"Ada"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg, ok := env.(RegisterEnvelope)
	if !ok {
		t.Fatalf("expected RegisterEnvelope, got %T", env)
	}
	if reg.DisplayName != "Ada" {
		t.Errorf("unexpected display name: %s", reg.DisplayName)
	}
}

func TestParseClientEnvelope_Discover(t *testing.T) {
	env, err := ParseClientEnvelope([]byte(`{"type":"discover"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.(DiscoverEnvelope); !ok {
		t.Fatalf("expected DiscoverEnvelope, got %T", env)
	}
}

func TestParseClientEnvelope_OpaquePayloadRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"offer","target_user_id":"u2","offer":{"sdp":"v=0\r\n...","type":"offer","extra":{"nested":[1,2,3]}}}`)
	env, err := ParseClientEnvelope(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	offer, ok := env.(OfferEnvelope)
	if !ok {
		t.Fatalf("expected OfferEnvelope, got %T", env)
	}
	if offer.TargetUserID != "u2" {
		t.Errorf("unexpected target: %s", offer.TargetUserID)
	}

	// The offer payload must round-trip byte-for-byte as opaque JSON:
	// the hub never interprets SDP/ICE contents.
	out := NewOfferOut("u1", offer.Offer)
	marshaled, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded struct {
		Offer json.RawMessage `json:"offer"`
	}
	if err := json.Unmarshal(marshaled, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	var original, roundTripped any
	if err := json.Unmarshal(offer.Offer, &original); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(decoded.Offer, &roundTripped); err != nil {
		t.Fatal(err)
	}
	origJSON, _ := json.Marshal(original)
	rtJSON, _ := json.Marshal(roundTripped)
	if string(origJSON) != string(rtJSON) {
		t.Errorf("payload did not round-trip: %s != %s", origJSON, rtJSON)
	}
}

func TestParseClientEnvelope_AnswerAndIceCandidate(t *testing.T) {
	env, err := ParseClientEnvelope([]byte(`{"type":"answer","target_user_id":"u1","answer":{"sdp":"x"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.(AnswerEnvelope); !ok {
		t.Fatalf("expected AnswerEnvelope, got %T", env)
	}

	env, err = ParseClientEnvelope([]byte(`{"type":"ice_candidate","target_user_id":"u1","candidate":{"c":"x"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.(IceCandidateEnvelope); !ok {
		t.Fatalf("expected IceCandidateEnvelope, got %T", env)
	}
}

func TestParseClientEnvelope_UnknownTypeIsProtocolError(t *testing.T) {
	_, err := ParseClientEnvelope([]byte(`{"type":"wave_hands"}`))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestParseClientEnvelope_MalformedJSONIsProtocolError(t *testing.T) {
	_, err := ParseClientEnvelope([]byte(`not json at all`))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestParseClientEnvelope_TruncatedBodyIsProtocolError(t *testing.T) {
	_, err := ParseClientEnvelope([]byte(`{"type":"offer","offer":{"sdp":"x"}`))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol for truncated JSON, got %v", err)
	}
}

func TestServerEnvelopes_MarshalWithTypeDiscriminator(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want string
	}{
		{"registered", NewRegistered("u1"), `{"type":"registered","user_id":"u1"}`},
		{"user_list", NewUserList([]UserInfo{{UserID: "u1", DisplayName: "Ada"}}), `{"type":"user_list","users":[{"user_id":"u1","display_name":"Ada"}]}`},
		{"user_joined", NewUserJoined("u2", "Grace"), `{"type":"user_joined","user_id":"u2","display_name":"Grace"}`},
		{"user_left", NewUserLeft("u2"), `{"type":"user_left","user_id":"u2"}`},
		{"error", NewError("boom"), `{"type":"error","message":"boom"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.v)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(data) != tc.want {
				t.Errorf("got %s, want %s", data, tc.want)
			}
		})
	}
}
