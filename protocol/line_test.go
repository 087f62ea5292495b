package protocol

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected LineRequest
	}{
		{"Connect", "CONECTARSE_AL_SERVIDOR:alice\n", LineRequest{Command: CommandConnect, Name: "alice"}},
		{"Create", "CREAR_GRUPO: team ", LineRequest{Command: CommandCreateGroup, Name: "team"}},
		{"Join", "UNIRSE_A_GRUPO:team\r\n", LineRequest{Command: CommandJoinGroup, Name: "team"}},
		{"Message keeps colons", "ENVIAR_MENSAJE_A_GRUPO:team:meet at 10:30", LineRequest{Command: CommandGroupMessage, Name: "team", Text: "meet at 10:30"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request, err := ParseLine(tt.line)
			require.NoError(t, err)
			require.Equal(t, tt.expected, request)
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	tests := []struct {
		line     string
		expected error
	}{
		{"hello", errors.ErrMalformedRequest},
		{"ENVIAR_MENSAJE_A_GRUPO:team", errors.ErrMalformedRequest},
		{"BORRAR:team", errors.ErrUnknownAction},
		{"CREAR_GRUPO: ", errors.ErrNameRequired},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := ParseLine(tt.line)
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestEncodeLinePush(t *testing.T) {
	req := require.New(t)

	b, err := EncodeLinePush(domain.Notification{Kind: domain.KindGroup, Group: "team", Sender: "alice", Content: "two\nlines"})
	req.NoError(err)
	req.Equal("MENSAJE_DE_GRUPO:team:alice:two lines", string(b))

	b, err = EncodeLinePush(domain.Notification{Kind: domain.KindPrivate, Sender: "bob", Recipient: "alice", Content: "hi"})
	req.NoError(err)
	req.Equal("MENSAJE_PRIVADO:bob:hi", string(b))
}

func TestInfoAndErrorLines(t *testing.T) {
	req := require.New(t)
	req.Equal("INFO:Connected as alice", string(InfoLine("Connected as %s", "alice")))
	req.Equal("ERROR:group not found: team", string(ErrorLine(fmt.Errorf("%w: team", errors.ErrGroupNotFound))))
}
