package main

import (
	"bufio"
	"chat-relay/client"
	"chat-relay/protocol"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2

	requestTimeout = 5 * time.Second
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

type terminal struct {
	client  *client.Client
	input   *bufio.Scanner
	colours bool
}

func run() (int, error) {
	config, err := client.LoadConfig()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := &terminal{input: bufio.NewScanner(os.Stdin), colours: config.Colours}
	username := config.Username
	if username == "" {
		username = t.ask("Username")
	}
	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	c, err := client.Dial(ctx, config, log)
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = c.Close() }()
	t.client = c

	response, err := t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
		return c.Register(ctx, username, sessionID)
	})
	if err != nil {
		return exitRuntime, fmt.Errorf("registration failed: %w", err)
	}
	t.info(response.Message)

	go t.printPushes()

	for {
		t.menu()
		choice := t.ask("Option")
		if ctx.Err() != nil {
			return exitOK, nil
		}
		select {
		case <-c.Done():
			return exitRuntime, fmt.Errorf("connection to server lost")
		default:
		}
		if choice == "0" {
			t.info("Bye")
			return exitOK, nil
		}
		t.dispatch(ctx, choice)
	}
}

func (t *terminal) menu() {
	fmt.Println()
	fmt.Println(t.paint(color.FgCyan, "--- CHAT MENU ---"))
	fmt.Println("1. Send private message")
	fmt.Println("2. Create group")
	fmt.Println("3. Join group")
	fmt.Println("4. Send group message")
	fmt.Println("5. Private history")
	fmt.Println("6. Group history")
	fmt.Println("7. List users")
	fmt.Println("8. List groups")
	fmt.Println("9. Search history")
	fmt.Println("10. Delete group")
	fmt.Println("0. Quit")
}

func (t *terminal) dispatch(ctx context.Context, choice string) {
	c := t.client
	switch choice {
	case "1":
		recipient, message := t.ask("Recipient"), t.ask("Message")
		t.report(t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
			return c.SendPrivate(ctx, recipient, message)
		}))
	case "2":
		name, users := t.ask("Group name"), t.ask("Members (comma separated)")
		t.report(t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
			return c.CreateGroup(ctx, name, strings.Split(users, ",")...)
		}))
	case "3":
		name := t.ask("Group name")
		t.report(t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
			return c.JoinGroup(ctx, name)
		}))
	case "4":
		name, message := t.ask("Group name"), t.ask("Message")
		t.report(t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
			return c.SendGroup(ctx, name, message)
		}))
	case "5":
		user := t.ask("With user")
		t.history(t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
			return c.Do(ctx, protocol.ActionPrivateHistory, protocol.PrivateHistoryData{User: user})
		}))
	case "6":
		name := t.ask("Group name")
		t.history(t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
			return c.Do(ctx, protocol.ActionGroupHistory, protocol.GroupData{GroupName: name})
		}))
	case "7":
		response, err := t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
			return c.Do(ctx, protocol.ActionListUsers, nil)
		})
		if t.report(response, err) {
			for _, user := range response.Users {
				fmt.Println("  -", user)
			}
		}
	case "8":
		response, err := t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
			return c.Do(ctx, protocol.ActionListGroups, nil)
		})
		if t.report(response, err) {
			for _, group := range response.Groups {
				fmt.Printf("  - %s: %s\n", group.Name, strings.Join(group.Members, ", "))
			}
		}
	case "9":
		text, group := t.ask("Text"), t.ask("Group (empty for a private conversation)")
		user := ""
		if group == "" {
			user = t.ask("With user")
		}
		limit, _ := strconv.Atoi(t.ask("Limit (empty for default)"))
		t.history(t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
			return c.Do(ctx, protocol.ActionSearch, protocol.SearchData{Text: text, GroupName: group, User: user, Limit: limit})
		}))
	case "10":
		name := t.ask("Group name")
		t.report(t.call(ctx, func(ctx context.Context) (protocol.Response, error) {
			return c.Do(ctx, protocol.ActionDeleteGroup, protocol.GroupData{GroupName: name})
		}))
	default:
		t.fail("Unknown option " + choice)
	}
}

func (t *terminal) call(ctx context.Context, fn func(ctx context.Context) (protocol.Response, error)) (protocol.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return fn(callCtx)
}

// report prints the outcome and tells whether the request succeeded.
func (t *terminal) report(response protocol.Response, err error) bool {
	if err != nil {
		t.fail(err.Error())
		return false
	}
	t.info(response.Message)
	if response.Warning != "" {
		fmt.Println(t.paint(color.FgYellow, "warning: "+response.Warning))
	}
	return true
}

func (t *terminal) history(response protocol.Response, err error) {
	if !t.report(response, err) {
		return
	}
	for _, entry := range response.History {
		fmt.Println("  " + entry.Line)
	}
}

func (t *terminal) printPushes() {
	for push := range t.client.Pushes() {
		at := push.Timestamp
		if ts, err := time.Parse(time.RFC3339Nano, push.Timestamp); err == nil {
			at = ts.Local().Format(time.TimeOnly)
		}
		line := fmt.Sprintf("\n<-- [%s] %s: %s", at, push.Sender, push.Message)
		if push.IsGroup() {
			line = fmt.Sprintf("\n<-- [%s] (%s) %s: %s", at, push.Group, push.Sender, push.Message)
		}
		fmt.Println(t.paint(color.FgGreen, line))
	}
	fmt.Println(t.paint(color.FgRed, "\nConnection to server lost."))
}

func (t *terminal) ask(label string) string {
	fmt.Printf("%s: ", label)
	if !t.input.Scan() {
		return "0"
	}
	return strings.TrimSpace(t.input.Text())
}

func (t *terminal) info(message string) {
	fmt.Println(t.paint(color.FgBlue, "--> "+message))
}

func (t *terminal) fail(message string) {
	fmt.Println(t.paint(color.FgRed, "error: "+message))
}

func (t *terminal) paint(c color.Color, s string) string {
	if !t.colours {
		return s
	}
	return c.Render(s)
}
