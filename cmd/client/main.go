// Command client is a line-oriented relay client: it logs in, sends each
// stdin line as a broadcast and prints whatever the relay delivers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/andy6609/prattle/internal/netconn"
	"github.com/andy6609/prattle/internal/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:5000", "relay address")
	name := flag.String("name", "", "name to log in with")
	poll := flag.Duration("poll", 100*time.Millisecond, "receive poll interval")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *name == "" {
		fmt.Fprintln(os.Stderr, "-name is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	ch, err := netconn.Dial(dialCtx, *addr, netconn.Options{})
	cancel()
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer ch.Close()

	if err := ch.Send(protocol.MakeLogin(*name)); err != nil {
		logger.Error("login failed", "error", err)
		os.Exit(1)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	ticker := time.NewTicker(*poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = ch.Send(protocol.MakeQuit(*name))
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				_ = ch.Send(protocol.MakeQuit(*name))
				return
			}
			m := protocol.MakeBroadcast(protocol.Value(*name), protocol.Value(line))
			if err := ch.Send(m); err != nil {
				logger.Error("send failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := drain(ch); err != nil {
				logger.Error("connection lost", "error", err)
				return
			}
		}
	}
}

func drain(ch *netconn.Channel) error {
	for {
		ok, err := ch.Poll()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		m, err := ch.Next()
		if err != nil {
			return err
		}
		if m.IsBroadcast() {
			fmt.Printf("%s: %s\n", m.Sender().String(), m.Text().String())
		}
	}
}
