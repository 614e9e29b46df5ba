package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lfelipesv/talkd/internal/ctl"
	"github.com/lfelipesv/talkd/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := ctl.New(session.SocketPath(sessionName))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "conversations":
		cmdConversations(ctx, c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: talkctl messages <conversation-id> [limit]")
			os.Exit(1)
		}
		cmdMessages(ctx, c, args[1:], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: talkctl send <conversation-id> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, c, args[1], args[2], *jsonFlag)
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: talkctl read <conversation-id>")
			os.Exit(1)
		}
		cmdRead(ctx, c, args[1])
	case "presence":
		conv := ""
		if len(args) >= 2 {
			conv = args[1]
		}
		cmdPresence(ctx, c, conv, *jsonFlag)
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: talkctl search <query> [conversation-id]")
			os.Exit(1)
		}
		conv := ""
		if len(args) >= 3 {
			conv = args[2]
		}
		cmdSearch(ctx, c, args[1], conv, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: talkctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                       Show daemon status")
	fmt.Fprintln(os.Stderr, "  conversations                List conversations")
	fmt.Fprintln(os.Stderr, "  messages <conv> [limit]      Show messages for a conversation")
	fmt.Fprintln(os.Stderr, "  send <conv> <text>           Send a message")
	fmt.Fprintln(os.Stderr, "  read <conv>                  Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  presence [conv]              Show online users (and typers)")
	fmt.Fprintln(os.Stderr, "  search <query> [conv]        Full-text search the archive")
}

func cmdStatus(ctx context.Context, c *ctl.Client, jsonOut bool) {
	resp, err := c.Status(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session: %s\n", resp.Session)
	fmt.Printf("State:   %s\n", resp.State)
	fmt.Printf("Unread:  %d\n", resp.TotalUnread)
	if resp.OpenConversation != "" {
		fmt.Printf("Open:    %s\n", resp.OpenConversation)
	}
	if resp.Archive != nil {
		fmt.Printf("Archive: %d messages in %d conversations\n", resp.Archive.Messages, resp.Archive.Conversations)
	}
}

func cmdConversations(ctx context.Context, c *ctl.Client, jsonOut bool) {
	convs, err := c.Conversations(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, conv := range convs {
		name := conv.Name
		if name == "" {
			name = conv.ID
		}
		preview := ""
		if conv.LastMessage != nil {
			preview = conv.LastMessage.Content
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
		}
		fmt.Printf("%-36s %-24s %s%s\n", conv.ID, name, preview, unread)
	}
}

func cmdMessages(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	limit := 0
	if len(args) >= 2 {
		limit, _ = strconv.Atoi(args[1])
	}
	msgs, err := c.Messages(ctx, args[0], 0, limit)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		ts := time.UnixMilli(m.CreatedAt).Format("15:04:05")
		sender := m.Sender.DisplayName
		if sender == "" {
			sender = m.SenderID
		}
		fmt.Printf("[%s] %s: %s\n", ts, sender, m.Content)
	}
}

func cmdSend(ctx context.Context, c *ctl.Client, conversationID, text string, jsonOut bool) {
	msg, err := c.Send(ctx, conversationID, text)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("sent %s\n", msg.ID)
}

func cmdRead(ctx context.Context, c *ctl.Client, conversationID string) {
	if err := c.MarkRead(ctx, conversationID); err != nil {
		fatal(err)
	}
}

func cmdPresence(ctx context.Context, c *ctl.Client, conversationID string, jsonOut bool) {
	resp, err := c.Presence(ctx, conversationID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Online) == 0 {
		fmt.Println("Nobody online.")
	}
	for _, o := range resp.Online {
		fmt.Printf("%s online\n", o.UserID)
	}
	for _, u := range resp.Typing {
		fmt.Printf("%s typing...\n", u)
	}
}

func cmdSearch(ctx context.Context, c *ctl.Client, query, conversationID string, jsonOut bool) {
	results, err := c.Search(ctx, query, conversationID, 0)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, r := range results {
		ts := time.UnixMilli(r.Message.CreatedAt).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s: %s\n", ts, r.Message.ConversationID, r.Snippet)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
