package client

import (
	"chat-relay/protocol"
	"context"
	"strings"
)

// Register binds username to sessionID on the server and to this connection.
func (c *Client) Register(ctx context.Context, username, sessionID string) (protocol.Response, error) {
	return c.Do(ctx, protocol.ActionRegister, protocol.RegisterData{Username: username, SessionID: sessionID})
}

func (c *Client) SendPrivate(ctx context.Context, recipient, message string) (protocol.Response, error) {
	return c.Do(ctx, protocol.ActionSendPrivate, protocol.SendPrivateData{Recipient: recipient, Message: message})
}

func (c *Client) CreateGroup(ctx context.Context, name string, users ...string) (protocol.Response, error) {
	return c.Do(ctx, protocol.ActionCreateGroup, map[string]string{
		"groupName": name,
		"users":     strings.Join(users, ","),
	})
}

func (c *Client) SendGroup(ctx context.Context, group, message string) (protocol.Response, error) {
	return c.Do(ctx, protocol.ActionSendGroup, protocol.SendGroupData{GroupName: group, Message: message})
}

func (c *Client) JoinGroup(ctx context.Context, group string) (protocol.Response, error) {
	return c.Do(ctx, protocol.ActionJoinGroup, protocol.JoinGroupData{GroupName: group})
}

// PrivateHistory reads the conversation between the registered user and user.
func (c *Client) PrivateHistory(ctx context.Context, user string) ([]protocol.HistoryEntry, error) {
	response, err := c.Do(ctx, protocol.ActionPrivateHistory, protocol.PrivateHistoryData{User: user})
	return response.History, err
}

func (c *Client) GroupHistory(ctx context.Context, group string) ([]protocol.HistoryEntry, error) {
	response, err := c.Do(ctx, protocol.ActionGroupHistory, protocol.GroupData{GroupName: group})
	return response.History, err
}

func (c *Client) Users(ctx context.Context) ([]string, error) {
	response, err := c.Do(ctx, protocol.ActionListUsers, nil)
	return response.Users, err
}

func (c *Client) Groups(ctx context.Context) ([]protocol.GroupView, error) {
	response, err := c.Do(ctx, protocol.ActionListGroups, nil)
	return response.Groups, err
}

func (c *Client) DeleteGroup(ctx context.Context, group string) error {
	_, err := c.Do(ctx, protocol.ActionDeleteGroup, protocol.GroupData{GroupName: group})
	return err
}

// Search looks for text in a group when group is set, otherwise in the
// private conversation with user.
func (c *Client) Search(ctx context.Context, text, group, user string, limit int) ([]protocol.HistoryEntry, error) {
	response, err := c.Do(ctx, protocol.ActionSearch, protocol.SearchData{
		Text:      text,
		GroupName: group,
		User:      user,
		Limit:     limit,
	})
	return response.History, err
}
