package protocol

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"strings"
)

type LineCommand string

const (
	CommandConnect      LineCommand = "CONECTARSE_AL_SERVIDOR"
	CommandCreateGroup  LineCommand = "CREAR_GRUPO"
	CommandJoinGroup    LineCommand = "UNIRSE_A_GRUPO"
	CommandGroupMessage LineCommand = "ENVIAR_MENSAJE_A_GRUPO"

	PushGroupLine   = "MENSAJE_DE_GRUPO"
	PushPrivateLine = "MENSAJE_PRIVADO"

	InfoPrefix  = "INFO:"
	ErrorPrefix = "ERROR:"
)

// LineRequest is one parsed command of the text protocol.
// Name is the username for CONECTARSE_AL_SERVIDOR and the group otherwise.
type LineRequest struct {
	Command LineCommand
	Name    string
	Text    string
}

// ParseLine splits "COMMAND:name[:text]". The text of a group message
// keeps any colon it contains.
func ParseLine(line string) (LineRequest, error) {
	line = strings.TrimRight(line, "\r\n")
	command, rest, found := strings.Cut(line, ":")
	if !found {
		return LineRequest{}, fmt.Errorf("%w: expected COMMAND:argument", errors.ErrMalformedRequest)
	}
	request := LineRequest{Command: LineCommand(strings.TrimSpace(command))}
	switch request.Command {
	case CommandConnect, CommandCreateGroup, CommandJoinGroup:
		request.Name = strings.TrimSpace(rest)
	case CommandGroupMessage:
		name, text, ok := strings.Cut(rest, ":")
		if !ok {
			return LineRequest{}, fmt.Errorf("%w: expected %s:group:text", errors.ErrMalformedRequest, CommandGroupMessage)
		}
		request.Name = strings.TrimSpace(name)
		request.Text = text
	default:
		return LineRequest{}, fmt.Errorf("%w: %s", errors.ErrUnknownAction, command)
	}
	if request.Name == "" {
		return LineRequest{}, errors.ErrNameRequired
	}
	return request, nil
}

func InfoLine(format string, args ...any) []byte {
	return []byte(InfoPrefix + oneLine(fmt.Sprintf(format, args...)))
}

func ErrorLine(err error) []byte {
	return []byte(ErrorPrefix + oneLine(err.Error()))
}

// EncodeLinePush renders a notification for the text protocol, without the line terminator.
func EncodeLinePush(n domain.Notification) ([]byte, error) {
	if n.Kind == domain.KindGroup {
		return []byte(strings.Join([]string{PushGroupLine, n.Group, n.Sender, oneLine(n.Content)}, ":")), nil
	}
	return []byte(strings.Join([]string{PushPrivateLine, n.Sender, oneLine(n.Content)}, ":")), nil
}

// oneLine keeps a frame on a single line.
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
