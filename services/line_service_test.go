package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestLine_First_Command_Must_Connect(t *testing.T) {
	req := require.New(t)
	service, _ := newService(t, false)
	session := service.NewSession(&recordingSink{})

	reply := service.HandleLine(context.Background(), session, "CREAR_GRUPO:team")
	req.True(reply.Close)
	req.Contains(string(reply.Frame), "ERROR:")
	req.Empty(service.router.Users())
}

func TestLine_Duplicate_Username_Closes(t *testing.T) {
	req := require.New(t)
	service, _ := newService(t, false)
	ctx := context.Background()

	first := service.NewSession(&recordingSink{})
	reply := service.HandleLine(ctx, first, "CONECTARSE_AL_SERVIDOR:alice")
	req.False(reply.Close)
	req.Equal("INFO:Connection successful. Welcome, alice!", string(reply.Frame))

	second := service.NewSession(&recordingSink{})
	reply = service.HandleLine(ctx, second, "CONECTARSE_AL_SERVIDOR:alice")
	req.True(reply.Close)
	req.Equal("ERROR:username already in use", string(reply.Frame))
}

func TestLine_Group_Conversation(t *testing.T) {
	req := require.New(t)
	service, store := newService(t, false)
	ctx := context.Background()
	aliceSink, bobSink := &recordingSink{}, &recordingSink{}
	alice, bob := service.NewSession(aliceSink), service.NewSession(bobSink)
	service.HandleLine(ctx, alice, "CONECTARSE_AL_SERVIDOR:alice")
	service.HandleLine(ctx, bob, "CONECTARSE_AL_SERVIDOR:bob")

	// Given an empty group both users join
	req.Equal("INFO:Group 'team' created.", string(service.HandleLine(ctx, alice, "CREAR_GRUPO:team").Frame))
	req.Contains(string(service.HandleLine(ctx, bob, "CREAR_GRUPO:team").Frame), "ERROR:")
	req.Contains(string(service.HandleLine(ctx, alice, "UNIRSE_A_GRUPO:team").Frame), "INFO:")
	req.Contains(string(service.HandleLine(ctx, bob, "UNIRSE_A_GRUPO:team").Frame), "INFO:")
	req.Contains(string(service.HandleLine(ctx, bob, "UNIRSE_A_GRUPO:nope").Frame), "ERROR:group not found")

	// When alice writes to it
	store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)
	reply := service.HandleLine(ctx, alice, "ENVIAR_MENSAJE_A_GRUPO:team:hello: world")
	req.Contains(string(reply.Frame), "delivered to 1")

	// Then bob alone receives it, colons included
	req.Empty(aliceSink.received())
	received := bobSink.received()
	req.Len(received, 1)
	req.Equal("hello: world", received[0].Content)
	req.Equal("team", received[0].Group)
}

func TestLine_Close_Removes_Session(t *testing.T) {
	req := require.New(t)
	service, _ := newService(t, false)
	ctx := context.Background()
	session := service.NewSession(&recordingSink{})
	service.HandleLine(ctx, session, "CONECTARSE_AL_SERVIDOR:alice")

	service.CloseLine(session)

	req.Empty(service.router.Users())
	again := service.NewSession(&recordingSink{})
	req.False(service.HandleLine(ctx, again, "CONECTARSE_AL_SERVIDOR:alice").Close)
}

func TestLine_Unknown_Command_Keeps_Connection(t *testing.T) {
	req := require.New(t)
	service, _ := newService(t, false)
	ctx := context.Background()
	session := service.NewSession(&recordingSink{})
	service.HandleLine(ctx, session, "CONECTARSE_AL_SERVIDOR:alice")

	reply := service.HandleLine(ctx, session, "BAILAR:tango")
	req.False(reply.Close)
	req.Contains(string(reply.Frame), "ERROR:unknown action")
}
