// chatprobe exercises a running backend from the command line: it creates
// chats, submits turns, watches the raw event stream, and drives the reload
// and edit flows through the client library.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/sotrian/sotrian/backend/pkg/client"
	"github.com/sotrian/sotrian/backend/pkg/protocol"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] no .env file, using system environment: %v", err)
	}

	server := flag.String("server", "http://localhost:8080", "backend base URL")
	user := flag.String("user", "probe", "caller user ID")
	name := flag.String("name", "", "caller display name")
	email := flag.String("email", "", "caller email")

	mode := flag.String("mode", "", "probe mode: list, new, show, turn, raw, reload, edit, credential")
	chatID := flag.String("chat", "", "chat ID for show/turn/raw/reload/edit")
	text := flag.String("text", "", "user message for turn/raw/edit")
	image := flag.String("image", "", "base64 image payload for turn/raw")
	turnMode := flag.String("turn-mode", "detection", "analysis route: detection or advisor")
	key := flag.String("key", "", "credential value for credential mode")
	timeout := flag.Duration("timeout", 2*time.Minute, "request timeout")

	flag.Parse()

	api := client.New(*server, client.Identity{ID: *user, Username: *name, Email: *email})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	route := protocol.Mode(*turnMode)
	if !route.Valid() {
		log.Fatalf("invalid -turn-mode %q, want detection or advisor", *turnMode)
	}

	switch *mode {
	case "list":
		runList(ctx, api)
	case "new":
		runNew(ctx, api)
	case "show":
		runShow(ctx, api, *chatID)
	case "turn":
		runTurn(ctx, api, *chatID, *text, *image, route)
	case "raw":
		runRaw(ctx, api, *chatID, *text, *image, route)
	case "reload":
		runRerun(ctx, api, *chatID, "")
	case "edit":
		runRerun(ctx, api, *chatID, *text)
	case "credential":
		runCredential(ctx, api, *key)
	default:
		flag.Usage()
		log.Fatal("pick a probe mode with -mode")
	}
}

func runList(ctx context.Context, api *client.Client) {
	chats, err := api.ListChats(ctx)
	if err != nil {
		log.Fatalf("list failed: %v", err)
	}
	for _, c := range chats {
		fmt.Printf("%s  %-40q  %d messages  updated %s\n", c.ID, c.Title, c.Messages, c.UpdatedAt.Format(time.RFC3339))
	}
	log.Printf("%d chats", len(chats))
}

func runNew(ctx context.Context, api *client.Client) {
	c, err := api.CreateChat(ctx)
	if err != nil {
		log.Fatalf("create failed: %v", err)
	}
	fmt.Println(c.ID)
}

func runShow(ctx context.Context, api *client.Client, chatID string) {
	if chatID == "" {
		log.Fatal("show mode needs -chat")
	}
	c, err := api.GetChat(ctx, chatID)
	if err != nil {
		log.Fatalf("get failed: %v", err)
	}
	fmt.Printf("# %s\n", c.Title)
	printMessages(c.Messages)
}

func runTurn(ctx context.Context, api *client.Client, chatID, text, image string, route protocol.Mode) {
	if chatID == "" || (text == "" && image == "") {
		log.Fatal("turn mode needs -chat and -text (or -image)")
	}

	consumer := client.NewConsumer(api, chatID, true)
	if err := consumer.Load(ctx); err != nil {
		log.Fatalf("load failed: %v", err)
	}

	outcome, err := consumer.Submit(ctx, client.TurnInput{Message: text, Image: image, Mode: route})
	if errors.Is(err, client.ErrNoCredential) {
		log.Fatal("no credential configured, run -mode=credential first")
	}
	if err != nil {
		log.Fatalf("turn failed (%s): %v", outcomeName(outcome), err)
	}

	log.Printf("turn %s", outcomeName(outcome))
	printMessages(consumer.Messages())
}

// runRaw bypasses the consumer and prints every stream frame as it arrives.
func runRaw(ctx context.Context, api *client.Client, chatID, text, image string, route protocol.Mode) {
	if chatID == "" || (text == "" && image == "") {
		log.Fatal("raw mode needs -chat and -text (or -image)")
	}

	stream, err := api.OpenTurn(ctx, chatID, client.TurnInput{Message: text, Image: image, Mode: route})
	if err != nil {
		log.Fatalf("open failed: %v", err)
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Fatalf("stream failed: %v", err)
		}

		switch ev.Type {
		case protocol.EventContent:
			fmt.Printf("content: %q\n", ev.Content)
		case protocol.EventComplete:
			fmt.Printf("complete: %+v\n", ev.Result)
		case protocol.EventError:
			fmt.Printf("error: %s\n", ev.Error)
		default:
			fmt.Printf("unknown frame type %q\n", ev.Type)
		}
	}
}

func runRerun(ctx context.Context, api *client.Client, chatID, editedText string) {
	if chatID == "" {
		log.Fatal("reload/edit mode needs -chat")
	}

	consumer := client.NewConsumer(api, chatID, true)
	if err := consumer.Load(ctx); err != nil {
		log.Fatalf("load failed: %v", err)
	}
	controller := client.NewController(api, consumer)

	userID := trailingUserMessageID(consumer.Messages())
	if userID == "" {
		log.Fatal("no user turn to re-issue in this chat")
	}

	var (
		outcome client.Outcome
		err     error
	)
	if editedText == "" {
		outcome, err = controller.Reload(ctx, userID)
	} else {
		outcome, err = controller.Edit(ctx, userID, editedText)
	}
	if err != nil {
		log.Fatalf("rerun failed (%s): %v", outcomeName(outcome), err)
	}

	log.Printf("rerun %s", outcomeName(outcome))
	printMessages(consumer.Messages())
}

func runCredential(ctx context.Context, api *client.Client, key string) {
	if key == "" {
		log.Fatal("credential mode needs -key")
	}
	if err := api.PutCredential(ctx, key); err != nil {
		log.Fatalf("credential store failed: %v", err)
	}
	log.Print("credential stored")
}

func trailingUserMessageID(msgs []client.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == client.RoleUser {
			return msgs[i].ID
		}
	}
	return ""
}

func printMessages(msgs []client.Message) {
	for _, m := range msgs {
		marker := ""
		if m.Failed {
			marker = " [failed]"
		}
		fmt.Printf("[%s]%s %s\n", m.Role, marker, m.Content)
		if m.Detection != nil {
			fmt.Printf("        verdict: %s fraud=%t risk=%s confidence=%.2f\n",
				m.Detection.QueryType, m.Detection.IsFraud, m.Detection.RiskLevel, m.Detection.Confidence)
		}
	}
}

func outcomeName(o client.Outcome) string {
	switch o {
	case client.OutcomeCompleted:
		return "completed"
	case client.OutcomeErrored:
		return "errored"
	case client.OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
