package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/runtime"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Session is the per-connection state. Only the connection's read loop touches it.
type Session struct {
	connectionID string
	sessionID    string
	username     string
	sink         contract.Sink
}

func (s *Session) Username() string {
	return s.username
}

func (s *Session) SessionID() string {
	return s.sessionID
}

// ChatService maps protocol requests onto Router operations.
// It is shared by every transport.
type ChatService struct {
	log           *slog.Logger
	router        *runtime.Router
	stats         *observability.Stats
	prunePresence bool
}

// NewChatService builds the dispatcher. With prunePresence, closing a JSON
// connection also removes its user from Presence.
func NewChatService(log *slog.Logger, router *runtime.Router, stats *observability.Stats, prunePresence bool) *ChatService {
	return &ChatService{log: log, router: router, stats: stats, prunePresence: prunePresence}
}

// NewSession starts the state of one connection. sink may be nil for
// stateless callers, nothing is then attached at registration.
func (s *ChatService) NewSession(sink contract.Sink) *Session {
	return &Session{connectionID: uuid.NewString(), sink: sink}
}

// HandleJSON answers one raw line of the JSON protocol.
// An unparseable line gets a bare MalformedRequest.
func (s *ChatService) HandleJSON(ctx context.Context, session *Session, line []byte) protocol.Response {
	request, err := protocol.DecodeRequest(line)
	if err != nil {
		s.stats.IncrRequestErrors()
		return protocol.ErrorResponse("", errors.ErrMalformedRequest)
	}
	return s.Handle(ctx, session, request)
}

func (s *ChatService) Handle(ctx context.Context, session *Session, request protocol.Request) protocol.Response {
	response, err := s.dispatch(ctx, session, request)
	if err != nil {
		s.stats.IncrRequestErrors()
		s.log.Debug("Request failed", "action", *request.Action, "user", session.username, "error", err)
		return protocol.ErrorResponse(request.ID, err)
	}
	response.ID = request.ID
	return response
}

func (s *ChatService) dispatch(ctx context.Context, session *Session, request protocol.Request) (protocol.Response, error) {
	switch *request.Action {
	case protocol.ActionRegister:
		var data protocol.RegisterData
		if err := decode(request, &data); err != nil {
			return protocol.Response{}, err
		}
		return s.register(session, data)

	case protocol.ActionSendPrivate:
		var data protocol.SendPrivateData
		if err := decode(request, &data); err != nil {
			return protocol.Response{}, err
		}
		sender := s.router.ResolveSender(data.SessionID, session.sessionID, data.Sender)
		delivery, err := s.router.SendPrivate(ctx, sender, data.Recipient, data.Message)
		if err != nil {
			return protocol.Response{}, err
		}
		message := fmt.Sprintf("Message delivered to %s", delivery.Record.Target)
		if !delivery.Live {
			message = fmt.Sprintf("Message stored, %s is offline", delivery.Record.Target)
		}
		response := protocol.OK("", message)
		response.Username = sender
		response.Delivered = lo.ToPtr(delivery.Live)
		response.Stored = lo.ToPtr(delivery.StoreErr == nil)
		response.Censored = delivery.Censored
		if delivery.StoreErr != nil {
			response.Warning = delivery.StoreErr.Error()
		}
		return response, nil

	case protocol.ActionCreateGroup:
		var data protocol.CreateGroupData
		if err := decode(request, &data); err != nil {
			return protocol.Response{}, err
		}
		members, err := s.router.CreateGroup(data.GroupName, data.Users...)
		if err != nil {
			return protocol.Response{}, err
		}
		response := protocol.OK("", fmt.Sprintf("Group %s created", strings.TrimSpace(data.GroupName)))
		response.Group = strings.TrimSpace(data.GroupName)
		response.Members = members
		return response, nil

	case protocol.ActionSendGroup:
		var data protocol.SendGroupData
		if err := decode(request, &data); err != nil {
			return protocol.Response{}, err
		}
		sender := s.router.ResolveSender(data.SessionID, session.sessionID, data.Sender)
		delivery, err := s.router.SendGroup(ctx, sender, data.GroupName, data.Message)
		if err != nil {
			return protocol.Response{}, err
		}
		response := protocol.OK("", fmt.Sprintf("Message sent to %s, delivered to %d member(s)", delivery.Record.Target, delivery.Delivered))
		response.Username = sender
		response.Group = delivery.Record.Target
		response.Members = delivery.Members
		response.DeliveredCount = lo.ToPtr(delivery.Delivered)
		response.Stored = lo.ToPtr(delivery.StoreErr == nil)
		response.Censored = delivery.Censored
		if delivery.StoreErr != nil {
			response.Warning = delivery.StoreErr.Error()
		}
		return response, nil

	case protocol.ActionJoinGroup:
		var data protocol.JoinGroupData
		if err := decode(request, &data); err != nil {
			return protocol.Response{}, err
		}
		username := s.router.ResolveSender(data.SessionID, session.sessionID, data.Sender)
		if username == domain.UnknownSender {
			return protocol.Response{}, fmt.Errorf("%w: register before joining a group", errors.ErrNameRequired)
		}
		members, err := s.router.JoinGroup(data.GroupName, username)
		if err != nil {
			return protocol.Response{}, err
		}
		response := protocol.OK("", fmt.Sprintf("%s joined %s", username, strings.TrimSpace(data.GroupName)))
		response.Username = username
		response.Group = strings.TrimSpace(data.GroupName)
		response.Members = members
		return response, nil

	case protocol.ActionPrivateHistory:
		var data protocol.PrivateHistoryData
		if err := decode(request, &data); err != nil {
			return protocol.Response{}, err
		}
		current := s.currentUser(session, data.CurrentUser, data.SessionID)
		records, err := s.router.PrivateHistory(ctx, current, data.User)
		if err != nil {
			return protocol.Response{}, err
		}
		response := protocol.OK("", fmt.Sprintf("%d message(s) between %s and %s", len(records), current, strings.TrimSpace(data.User)))
		response.History = protocol.ToHistory(records)
		return response, nil

	case protocol.ActionGroupHistory:
		var data protocol.GroupData
		if err := decode(request, &data); err != nil {
			return protocol.Response{}, err
		}
		records, err := s.router.GroupHistory(ctx, data.GroupName)
		if err != nil {
			return protocol.Response{}, err
		}
		response := protocol.OK("", fmt.Sprintf("%d message(s) in %s", len(records), strings.TrimSpace(data.GroupName)))
		response.Group = strings.TrimSpace(data.GroupName)
		response.History = protocol.ToHistory(records)
		return response, nil

	case protocol.ActionListUsers:
		users := s.router.Users()
		response := protocol.OK("", fmt.Sprintf("%d user(s) connected", len(users)))
		response.Users = users
		return response, nil

	case protocol.ActionListGroups:
		groups := s.router.Groups()
		response := protocol.OK("", fmt.Sprintf("%d group(s)", len(groups)))
		response.Groups = protocol.ToGroupViews(groups)
		return response, nil

	case protocol.ActionDeleteGroup:
		var data protocol.GroupData
		if err := decode(request, &data); err != nil {
			return protocol.Response{}, err
		}
		if err := s.router.DeleteGroup(ctx, data.GroupName); err != nil {
			return protocol.Response{}, err
		}
		response := protocol.OK("", fmt.Sprintf("Group %s deleted", strings.TrimSpace(data.GroupName)))
		response.Group = strings.TrimSpace(data.GroupName)
		return response, nil

	case protocol.ActionSearch:
		var data protocol.SearchData
		if err := decode(request, &data); err != nil {
			return protocol.Response{}, err
		}
		query := domain.SearchQuery{Text: data.Text, Group: strings.TrimSpace(data.GroupName), Limit: data.Limit}
		if !query.IsGroup() {
			query.UserA = s.currentUser(session, data.CurrentUser, data.SessionID)
			query.UserB = strings.TrimSpace(data.User)
		}
		records, err := s.router.Search(ctx, query)
		if err != nil {
			return protocol.Response{}, err
		}
		response := protocol.OK("", fmt.Sprintf("%d match(es)", len(records)))
		response.History = protocol.ToHistory(records)
		return response, nil

	default:
		return protocol.Response{}, fmt.Errorf("%w: %d", errors.ErrUnknownAction, *request.Action)
	}
}

// register binds the session and attaches this connection for pushes.
func (s *ChatService) register(session *Session, data protocol.RegisterData) (protocol.Response, error) {
	registration, err := s.router.Register(data.SessionID, data.Username)
	if err != nil {
		return protocol.Response{}, err
	}
	if session.sink != nil {
		if session.username != "" && session.username != registration.Username {
			s.router.Detach(session.username, session.sink)
		}
		s.router.Attach(registration.Username, session.sink)
	}
	session.sessionID = registration.SessionID
	session.username = registration.Username

	message := fmt.Sprintf("Registered as %s", registration.Username)
	if registration.Refreshed {
		message = fmt.Sprintf("Session refreshed for %s", registration.Username)
	}
	response := protocol.OK("", message)
	response.SessionID = registration.SessionID
	response.Username = registration.Username
	return response, nil
}

// CloseJSON releases a JSON connection. Presence is kept unless pruning is enabled.
func (s *ChatService) CloseJSON(session *Session) {
	if session.username == "" {
		return
	}
	detached := true
	if session.sink != nil {
		detached = s.router.Detach(session.username, session.sink)
	}
	// A newer connection of the same user keeps its presence
	if s.prunePresence && detached {
		s.router.Disconnect(session.sessionID)
	}
}

func decode(request protocol.Request, v any) error {
	if err := protocol.DecodeData(request, v); err != nil {
		return err
	}
	return protocol.Validate(v)
}

// currentUser is the explicit currentUser, else the user bound to the request
// or connection session. Empty when none is known, so the router reports NameRequired.
func (s *ChatService) currentUser(session *Session, explicit, sessionID string) string {
	if current := strings.TrimSpace(explicit); current != "" {
		return current
	}
	current := s.router.ResolveSender(sessionID, session.sessionID, "")
	if current == domain.UnknownSender {
		return ""
	}
	return current
}
