package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anshalkumar644/Eind-private-chat/internal/app"
	"github.com/anshalkumar644/Eind-private-chat/internal/call"
	"github.com/anshalkumar644/Eind-private-chat/internal/chat"
	"github.com/anshalkumar644/Eind-private-chat/internal/logger"
	"github.com/anshalkumar644/Eind-private-chat/internal/protocol"
)

func runChat(cmd *cobra.Command, args []string) {
	log := logger.NewLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := app.New(app.Options{
		SignalURL:   signalURL,
		STUNServers: stunServers,
		Logger:      log,
	})
	if err := a.Start(ctx); err != nil {
		log.Fatal(err)
		return
	}
	defer a.Close()

	fmt.Println("Your ID:", a.LocalID())
	fmt.Println("Share it with a peer, then /connect <their-id>. Type /help for commands.")

	go printEvents(a)

	repl(ctx, a)
}

// printEvents renders the app event stream for the terminal.
func printEvents(a *app.App) {
	for ev := range a.Events() {
		switch e := ev.(type) {
		case app.PeerConnected:
			fmt.Printf("* connected to %s\n", chat.DisplayName(e.RemoteID))
		case app.PeerDisconnected:
			fmt.Printf("* disconnected from %s\n", chat.DisplayName(e.RemoteID))
		case app.CallState:
			switch e.Phase {
			case call.Ringing:
				fmt.Printf("* incoming call from %s, /answer or /end\n", chat.DisplayName(e.RemoteID))
			case call.Dialing:
				fmt.Printf("* calling %s...\n", chat.DisplayName(e.RemoteID))
			case call.Active:
				fmt.Println("* call connected")
			case call.Idle:
				fmt.Println("* call ended")
			}
		case app.Notice:
			fmt.Println("!", e.Text)
		case app.ConversationsUpdated:
			// The REPL pulls fresh state on /list and /open.
		}
	}
}

func repl(ctx context.Context, a *app.App) {
	active := ""
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sendText(a, active, line)
			continue
		}

		cmd, arg := splitCommand(line)
		switch cmd {
		case "/help":
			printHelp()
		case "/id":
			fmt.Println(a.LocalID())
		case "/connect":
			if arg == "" {
				fmt.Println("usage: /connect <peer-id>")
				continue
			}
			if err := a.ConnectTo(ctx, arg); err != nil {
				fmt.Println("!", err)
			}
		case "/list":
			printConversations(a)
		case "/open":
			if arg == "" {
				fmt.Println("usage: /open <conversation-id>")
				continue
			}
			active = arg
			a.SelectConversation(arg)
			printHistory(a, arg)
		case "/call", "/videocall":
			target := arg
			if target == "" {
				target = active
			}
			if target == "" {
				fmt.Println("usage: /call <peer-id>")
				continue
			}
			if err := a.StartCall(ctx, target, cmd == "/videocall"); err != nil {
				fmt.Println("!", err)
			}
		case "/answer":
			if err := a.AnswerCall(ctx, false); err != nil {
				fmt.Println("!", err)
			}
		case "/end":
			a.EndCall()
		case "/quit", "/exit":
			return
		default:
			fmt.Println("unknown command, /help lists them")
		}
	}
}

func sendText(a *app.App, active, text string) {
	if active == "" {
		fmt.Println("no conversation open, /open one first")
		return
	}
	if err := a.SendMessage(active, protocol.KindText, text, "", ""); err != nil {
		fmt.Println("!", err)
	}
}

func splitCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

func printConversations(a *app.App) {
	for _, conv := range a.Conversations() {
		marker := ""
		if conv.Unread > 0 {
			marker = fmt.Sprintf(" (%d unread)", conv.Unread)
		}
		fmt.Printf("%s %s [%s]%s  %s\n", conv.Avatar, conv.Name, conv.ID, marker, conv.LastPreview)
	}
}

func printHistory(a *app.App, id string) {
	for _, conv := range a.Conversations() {
		if conv.ID != id {
			continue
		}
		for _, msg := range conv.Messages {
			who := conv.Name
			if msg.Sender == chat.SenderLocal {
				who = "me"
			}
			fmt.Printf("[%s] %s: %s\n", msg.SentAt.Format("15:04:05"), who, messageBody(msg))
		}
		return
	}
}

func messageBody(msg chat.Message) string {
	switch msg.Kind {
	case protocol.KindImage:
		return "📷 " + msg.FileName
	case protocol.KindVideo:
		return "🎥 " + msg.FileName
	default:
		return msg.Text
	}
}

func printHelp() {
	fmt.Println(`commands:
  /connect <peer-id>   open a data link to a peer
  /list                list conversations
  /open <id>           open a conversation (plain text sends to it)
  /call <peer-id>      start an audio call
  /videocall <peer-id> start a video call
  /answer              answer the ringing call
  /end                 end or reject the current call
  /id                  print your ID
  /quit                exit`)
}
