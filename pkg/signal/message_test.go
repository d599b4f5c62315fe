package signal

import (
	"encoding/json"
	"testing"

	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"join host", Message{Type: TypeJoin, Role: RoleHost}, nil},
		{"join without role", Message{Type: TypeJoin}, ErrMissingField},
		{"offer", Message{Type: TypeOffer, To: "peer", Payload: json.RawMessage(`{"sdp":"v=0"}`)}, nil},
		{"offer without target", Message{Type: TypeOffer, Payload: json.RawMessage(`{}`)}, ErrMissingField},
		{"candidate without payload", Message{Type: TypeICECandidate, To: "peer"}, ErrMissingField},
		{"clear selection", Message{Type: TypeSelectEmployee}, nil},
		{"capture without participant", Message{Type: TypeCapturePicture}, ErrMissingField},
		{"picture without artifact", Message{Type: TypePictureCaptured}, ErrMissingField},
		{
			"picture captured",
			Message{Type: TypePictureCaptured, Artifact: &session.Artifact{ParticipantID: "p", ImageData: "data:"}},
			nil,
		},
		{"server-only type", Message{Type: TypePictureSaved}, ErrUnknownType},
		{"unknown", Message{Type: "bogus"}, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"offer","to":"abc","payload":{"type":"offer","sdp":"v=0"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeOffer, msg.Type)
	assert.Equal(t, "abc", msg.To)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(msg.Payload))

	_, err = Decode([]byte(`{`))
	assert.Error(t, err)
}
