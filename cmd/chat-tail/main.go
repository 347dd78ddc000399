// Command chat-tail follows one community from the terminal: it loads the
// history around the last read message, keeps it live over the websocket and
// posts every line read from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"community-chat/internal/client/api"
	"community-chat/internal/client/realtime"
	"community-chat/internal/client/reconcile"
	"community-chat/internal/models"
)

func main() {
	var (
		baseURL     = flag.String("api", "http://localhost:8083", "chat HTTP API base URL")
		wsURL       = flag.String("ws", "ws://localhost:8083/ws", "chat websocket URL")
		token       = flag.String("token", os.Getenv("CHAT_TOKEN"), "bearer token")
		userID      = flag.Int64("user", 0, "id of the token's user")
		communityID = flag.Int64("community", 0, "community to follow")
		history     = flag.Int("older", 0, "extra pages of older history to load")
	)
	flag.Parse()

	if *token == "" || *userID == 0 || *communityID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer := newPrinter(os.Stdout)
	var engine *reconcile.Engine

	conn := realtime.NewConn(*wsURL, *token, realtime.Options{
		OnReconnect: func() {
			log.Printf("reconnected, reloading community=%d", *communityID)
			if err := engine.LoadInitial(ctx); err != nil {
				log.Printf("reload failed: %v", err)
			}
		},
	})

	engine = reconcile.NewEngine(api.NewClient(*baseURL, *token), conn, reconcile.Config{UserID: *userID}, reconcile.Callbacks{
		OnChange: func(id int64) {
			if id != *communityID {
				return
			}
			msgs := engine.Messages()
			for _, msg := range msgs {
				printer.print(msg)
			}
			if len(msgs) > 0 {
				engine.MessageVisible(msgs[len(msgs)-1])
			}
		},
		OnAlert: func(a reconcile.Alert) {
			log.Printf("alert kind=%s blocking=%t: %s", a.Kind, a.Blocking, a.Message)
		},
	})
	defer engine.Close()

	if err := conn.Connect(ctx); err != nil {
		log.Fatalf("failed to connect websocket: %v", err)
	}
	defer conn.Close()

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("failed to load communities: %v", err)
	}
	if c, ok := engine.Community(*communityID); ok {
		log.Printf("following %q unread=%d", c.Name, c.UnreadCount)
	}
	if err := engine.SelectCommunity(ctx, *communityID); err != nil {
		log.Fatalf("failed to open community %d: %v", *communityID, err)
	}
	for i := 0; i < *history && !engine.StartOfHistory(); i++ {
		if err := engine.LoadOlder(ctx); err != nil {
			log.Printf("load older: %v", err)
			break
		}
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			engine.SetDraft(line)
			sendCtx, cancel := context.WithTimeout(ctx, api.DefaultTimeout)
			if _, err := engine.Send(sendCtx, line); err != nil {
				log.Printf("send failed: %v", err)
			}
			cancel()
		}
	}()

	<-ctx.Done()
}

// printer writes each message once, and again whenever it is edited.
type printer struct {
	mu   sync.Mutex
	out  *os.File
	seen map[int64]time.Time
}

func newPrinter(out *os.File) *printer {
	return &printer{out: out, seen: make(map[int64]time.Time)}
}

func (p *printer) print(msg models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.seen[msg.ID]
	if ok && !msg.UpdatedAt.After(last) {
		return
	}
	p.seen[msg.ID] = msg.UpdatedAt

	marker := ""
	if ok {
		marker = " (edited)"
	}
	fmt.Fprintf(p.out, "%s [%d] %s: %s%s\n",
		msg.CreatedAt.Local().Format("15:04:05"), msg.ID, msg.Author.Name, msg.Content, marker)
}
