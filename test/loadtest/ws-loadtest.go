// WebSocket load testing tool for collabrelay.
// Usage: go run test/loadtest/ws-loadtest.go -url ws://127.0.0.1:3001/ws -conns 100 -workspaces 10 -duration 60s
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/cortexuvula/collabrelay/internal/protocol"
)

func frame(event string, data any) []byte {
	b, err := protocol.Encode(event, data)
	if err != nil {
		panic(err)
	}
	return b
}

func intp(n int) *int { return &n }

func main() {
	url := flag.String("url", "ws://127.0.0.1:3001/ws", "Relay WebSocket URL")
	conns := flag.Int("conns", 10, "Number of concurrent connections")
	workspaces := flag.Int("workspaces", 1, "Spread connections over this many workspaces")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	msgInterval := flag.Duration("interval", 1*time.Second, "Message send interval per connection")
	mode := flag.String("mode", "chat", "Traffic type: chat, document or cursor")
	token := flag.String("token", "", "Auth token (optional)")
	flag.Parse()

	if *workspaces < 1 {
		*workspaces = 1
	}

	fmt.Printf("collabrelay Load Test\n")
	fmt.Printf("  URL:          %s\n", *url)
	fmt.Printf("  Connections:  %d\n", *conns)
	fmt.Printf("  Workspaces:   %d\n", *workspaces)
	fmt.Printf("  Mode:         %s\n", *mode)
	fmt.Printf("  Duration:     %s\n", *duration)
	fmt.Printf("  Msg interval: %s\n", *msgInterval)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	var (
		connected    atomic.Int64
		sent         atomic.Int64
		received     atomic.Int64
		errors       atomic.Int64
		connectFails atomic.Int64
	)

	var dialOpts *websocket.DialOptions
	if *token != "" {
		dialOpts = &websocket.DialOptions{HTTPHeader: http.Header{"Authorization": {"Bearer " + *token}}}
	}

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *conns; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			c, _, err := websocket.Dial(ctx, *url, dialOpts)
			if err != nil {
				connectFails.Add(1)
				return
			}
			connected.Add(1)
			defer c.CloseNow()
			c.SetReadLimit(16 << 20)

			identity := fmt.Sprintf("load-%d", id)
			workspace := fmt.Sprintf("loadtest-%d", id%*workspaces)

			go func() {
				for {
					if _, _, err := c.Read(ctx); err != nil {
						return
					}
					received.Add(1)
				}
			}()

			join := protocol.JoinRequest{Identity: identity, WorkspaceID: workspace}
			joins := [][]byte{frame(protocol.EventJoin, join)}
			switch *mode {
			case "document":
				joins = append(joins, frame(protocol.EventJoinDocument, join))
			case "cursor":
				joins = append(joins, frame(protocol.EventJoinSpreadsheet, protocol.JoinSpreadsheetRequest{Identity: identity, WorkspaceID: workspace}))
			}
			for _, j := range joins {
				if err := c.Write(ctx, websocket.MessageText, j); err != nil {
					errors.Add(1)
					return
				}
			}

			ticker := time.NewTicker(*msgInterval)
			defer ticker.Stop()

			for n := 0; ; n++ {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					var msg []byte
					switch *mode {
					case "document":
						content := fmt.Sprintf("%s edit %d", identity, n)
						msg = frame(protocol.EventDocumentChange, protocol.DocumentChangeRequest{Content: &content})
					case "cursor":
						msg = frame(protocol.EventCellSelect, protocol.CellSelectRequest{Row: intp(n % 100), Column: intp(id % 26)})
					default:
						msg = frame(protocol.EventMessage, protocol.ChatRequest{Text: fmt.Sprintf("%s says %d", identity, n)})
					}
					if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
						if ctx.Err() == nil {
							errors.Add(1)
						}
						return
					}
					sent.Add(1)
				}
			}
		}(i)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(start).Round(time.Second)
				fmt.Printf("[%s] connected=%d sent=%d recv=%d errors=%d connect_fails=%d\n",
					elapsed, connected.Load(), sent.Load(), received.Load(), errors.Load(), connectFails.Load())
			}
		}
	}()

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("Results:")
	fmt.Printf("  Duration:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Connected:       %d / %d\n", connected.Load(), *conns)
	fmt.Printf("  Connect fails:   %d\n", connectFails.Load())
	fmt.Printf("  Frames sent:     %d\n", sent.Load())
	fmt.Printf("  Frames recv:     %d\n", received.Load())
	fmt.Printf("  Errors:          %d\n", errors.Load())
	if elapsed.Seconds() > 0 {
		fmt.Printf("  Send rate:       %.1f frames/s\n", float64(sent.Load())/elapsed.Seconds())
		fmt.Printf("  Recv rate:       %.1f frames/s\n", float64(received.Load())/elapsed.Seconds())
	}

	if connectFails.Load() > 0 || errors.Load() > 0 {
		log.Fatal("Load test completed with errors")
	}
}
