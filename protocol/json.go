package protocol

import (
	"bytes"
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ActionCode int

const (
	ActionRegister       ActionCode = 0
	ActionSendPrivate    ActionCode = 1
	ActionCreateGroup    ActionCode = 2
	ActionSendGroup      ActionCode = 3
	ActionJoinGroup      ActionCode = 4
	ActionPrivateHistory ActionCode = 7
	ActionGroupHistory   ActionCode = 8
	ActionListUsers      ActionCode = 9
	ActionListGroups     ActionCode = 10
	ActionDeleteGroup    ActionCode = 11
	ActionSearch         ActionCode = 12
)

// UnmarshalJSON accepts both "3" and 3.
func (a *ActionCode) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: action %s", errors.ErrMalformedRequest, string(b))
	}
	*a = ActionCode(code)
	return nil
}

// MemberList accepts a comma separated string or an array of names.
type MemberList []string

func (m *MemberList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*m = nil
		return nil
	}
	var joined string
	if err := json.Unmarshal(b, &joined); err == nil {
		*m = MemberList{joined}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("%w: users must be a string or a list", errors.ErrMalformedRequest)
	}
	*m = list
	return nil
}

// Request is one line of the JSON protocol.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Action *ActionCode     `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type RegisterData struct {
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

type SendPrivateData struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message" validate:"required"`
	SessionID string `json:"sessionId"`
	Sender    string `json:"sender"`
}

type CreateGroupData struct {
	GroupName string     `json:"groupName"`
	Users     MemberList `json:"users"`
}

type SendGroupData struct {
	GroupName string `json:"groupName"`
	Message   string `json:"message" validate:"required"`
	SessionID string `json:"sessionId"`
	Sender    string `json:"sender"`
}

type JoinGroupData struct {
	GroupName string `json:"groupName"`
	SessionID string `json:"sessionId"`
	Sender    string `json:"sender"`
}

type PrivateHistoryData struct {
	CurrentUser string `json:"currentUser"`
	User        string `json:"user"`
	SessionID   string `json:"sessionId"`
}

type GroupData struct {
	GroupName string `json:"groupName"`
}

type SearchData struct {
	Text        string `json:"text" validate:"required"`
	GroupName   string `json:"groupName"`
	User        string `json:"user" validate:"required_without=GroupName"`
	CurrentUser string `json:"currentUser"`
	SessionID   string `json:"sessionId"`
	Limit       int    `json:"limit" validate:"gte=0,lte=500"`
}

type GroupView struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type HistoryEntry struct {
	Sender    string `json:"sender"`
	Target    string `json:"target"`
	IsGroup   bool   `json:"isGroup"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Line      string `json:"line"`
}

// Response is the reply to one Request. Only the fields relevant to the action are set.
type Response struct {
	ID             string         `json:"id,omitempty"`
	Status         string         `json:"status"`
	Code           string         `json:"code,omitempty"`
	Message        string         `json:"message"`
	SessionID      string         `json:"sessionId,omitempty"`
	Username       string         `json:"username,omitempty"`
	Group          string         `json:"groupName,omitempty"`
	Members        []string       `json:"members,omitempty"`
	InvalidUsers   []string       `json:"invalidUsers,omitempty"`
	AvailableUsers []string       `json:"availableUsers,omitempty"`
	Users          []string       `json:"users,omitempty"`
	Groups         []GroupView    `json:"groups,omitempty"`
	History        []HistoryEntry `json:"history,omitempty"`
	Delivered      *bool          `json:"delivered,omitempty"`
	DeliveredCount *int           `json:"deliveredCount,omitempty"`
	Stored         *bool          `json:"stored,omitempty"`
	Warning        string         `json:"warning,omitempty"`
	Censored       []string       `json:"censored,omitempty"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

func OK(id, message string) Response {
	return Response{ID: id, Status: StatusOK, Message: message}
}

// ErrorResponse reports err with its wire code. Invalid users carry both lists
// so the client can retry with corrected input.
func ErrorResponse(id string, err error) Response {
	response := Response{ID: id, Status: StatusError, Code: CodeOf(err), Message: err.Error()}
	var invalid *errors.InvalidUsersError
	if errors.As(err, &invalid) {
		response.InvalidUsers = invalid.Invalid
		response.AvailableUsers = invalid.Available
	}
	return response
}

// CodeOf maps an error onto its wire code name.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errors.ErrNameRequired):
		return "NameRequired"
	case errors.Is(err, errors.ErrUsernameInUse):
		return "UsernameInUse"
	case errors.Is(err, errors.ErrGroupNotFound):
		return "GroupNotFound"
	case errors.Is(err, errors.ErrGroupAlreadyExists):
		return "GroupAlreadyExists"
	case errors.Is(err, errors.ErrInvalidUsers):
		return "InvalidUsers"
	case errors.Is(err, errors.ErrNoValidUsers):
		return "NoValidUsers"
	case errors.Is(err, errors.ErrInsufficientMembers):
		return "InsufficientMembers"
	case errors.Is(err, errors.ErrMalformedRequest):
		return "MalformedRequest"
	case errors.Is(err, errors.ErrUnknownAction):
		return "UnknownAction"
	case errors.Is(err, errors.ErrStoreUnavailable):
		return "StoreUnavailable"
	default:
		return "InternalError"
	}
}

func ToHistory(records []domain.Record) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, HistoryEntry{
			Sender:    r.Sender,
			Target:    r.Target,
			IsGroup:   r.IsGroup,
			Message:   r.Content,
			Timestamp: r.At.Format(time.RFC3339Nano),
			Line:      r.Line(),
		})
	}
	return entries
}

func ToGroupViews(groups []domain.Group) []GroupView {
	views := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, GroupView{Name: g.Name, Members: g.Members})
	}
	return views
}

type PrivatePush struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type GroupPush struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Group     string `json:"group"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

const (
	PushPrivate = "privateMessage"
	PushGroup   = "groupMessage"
)

// EncodePush renders a notification as a JSON push frame, without the line terminator.
func EncodePush(n domain.Notification) ([]byte, error) {
	timestamp := n.At.Format(time.RFC3339Nano)
	if n.Kind == domain.KindGroup {
		return json.Marshal(GroupPush{
			Type:      PushGroup,
			Sender:    n.Sender,
			Group:     n.Group,
			Message:   n.Content,
			Timestamp: timestamp,
		})
	}
	return json.Marshal(PrivatePush{
		Type:      PushPrivate,
		Status:    StatusOK,
		Sender:    n.Sender,
		Recipient: n.Recipient,
		Message:   n.Content,
		Timestamp: timestamp,
	})
}

func EncodeResponse(r Response) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest parses one request line. Any framing problem is a MalformedRequest.
func DecodeRequest(line []byte) (Request, error) {
	var request Request
	if err := json.Unmarshal(line, &request); err != nil {
		return Request{}, errors.ErrMalformedRequest
	}
	if request.Action == nil {
		return Request{}, errors.ErrMalformedRequest
	}
	return request, nil
}

// DecodeData unmarshals the request payload into v. A missing payload leaves v empty.
func DecodeData(request Request, v any) error {
	if len(request.Data) == 0 || bytes.Equal(bytes.TrimSpace(request.Data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(request.Data, v); err != nil {
		if errors.Is(err, errors.ErrMalformedRequest) {
			return err
		}
		return fmt.Errorf("%w: %v", errors.ErrMalformedRequest, err)
	}
	return nil
}
