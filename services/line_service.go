package services

import (
	"chat-relay/errors"
	"chat-relay/protocol"
	"context"
	"fmt"
)

// LineReply is the answer to one text command. Close ends the connection
// after the frame is written.
type LineReply struct {
	Frame []byte
	Close bool
}

// HandleLine runs one command of the text protocol. The first command of a
// connection must be CONECTARSE_AL_SERVIDOR, anything else closes it.
func (s *ChatService) HandleLine(ctx context.Context, session *Session, line string) LineReply {
	request, err := protocol.ParseLine(line)
	if session.username == "" {
		if err == nil && request.Command != protocol.CommandConnect {
			err = fmt.Errorf("%w: expected %s:<username>", errors.ErrMalformedRequest, protocol.CommandConnect)
		}
		if err != nil {
			s.stats.IncrRequestErrors()
			return LineReply{Frame: protocol.ErrorLine(err), Close: true}
		}
		return s.connect(session, request.Name)
	}
	if err != nil {
		s.stats.IncrRequestErrors()
		return LineReply{Frame: protocol.ErrorLine(err)}
	}

	switch request.Command {
	case protocol.CommandConnect:
		err = fmt.Errorf("%w: already connected as %s", errors.ErrMalformedRequest, session.username)
	case protocol.CommandCreateGroup:
		if err = s.router.OpenGroup(request.Name); err == nil {
			return LineReply{Frame: protocol.InfoLine("Group '%s' created.", request.Name)}
		}
	case protocol.CommandJoinGroup:
		if _, err = s.router.JoinGroup(request.Name, session.username); err == nil {
			return LineReply{Frame: protocol.InfoLine("You joined group '%s'.", request.Name)}
		}
	case protocol.CommandGroupMessage:
		delivery, sendErr := s.router.SendGroup(ctx, session.username, request.Name, request.Text)
		if err = sendErr; err == nil {
			return LineReply{Frame: protocol.InfoLine("Message sent to '%s', delivered to %d member(s).", request.Name, delivery.Delivered)}
		}
	}
	s.stats.IncrRequestErrors()
	return LineReply{Frame: protocol.ErrorLine(err)}
}

func (s *ChatService) connect(session *Session, username string) LineReply {
	registration, err := s.router.Register(session.connectionID, username)
	if err != nil {
		s.stats.IncrRequestErrors()
		return LineReply{Frame: protocol.ErrorLine(err), Close: true}
	}
	session.sessionID = registration.SessionID
	session.username = registration.Username
	if session.sink != nil {
		s.router.Attach(session.username, session.sink)
	}
	return LineReply{Frame: protocol.InfoLine("Connection successful. Welcome, %s!", session.username)}
}

// CloseLine releases a text connection together with its session and presence.
func (s *ChatService) CloseLine(session *Session) {
	if session.username == "" {
		return
	}
	if session.sink != nil {
		s.router.Detach(session.username, session.sink)
	}
	s.router.Disconnect(session.sessionID)
}
