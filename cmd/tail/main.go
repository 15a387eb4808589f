package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"liveboard.dev/internal/client"
	"liveboard.dev/internal/httpclient"
)

func main() {
	var (
		base     = flag.String("url", "http://localhost:8080", "server base url")
		username = flag.String("username", "anon", "display name for submitted posts")
		authorID = flag.String("author", "", "author id (defaults to username)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[tail] ", log.LstdFlags|log.Lmicroseconds)

	author := *authorID
	if author == "" {
		author = *username
	}

	api := httpclient.New(*base)
	engine := client.New(api, client.Options{
		AuthorID: author,
		OnChange: render,
	}, logger)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	feedURL := wsURL(*base) + "/v1/feed"
	sub := client.NewSubscriber(feedURL, author, engine, logger)
	go func() {
		if err := sub.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("subscriber stopped: %v", err)
		}
	}()

	// Each stdin line becomes a post.
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		engine.Submit(ctx, *username, line)
		if ctx.Err() != nil {
			return
		}
	}
}

func render(s client.Snapshot) {
	fmt.Printf("---- %d posts", len(s.Entries))
	if s.Pending {
		fmt.Printf(" [sending]")
	}
	if s.Loading {
		fmt.Printf(" [loading]")
	}
	if s.LastError != "" {
		fmt.Printf(" [error: %s]", s.LastError)
	}
	fmt.Println()
	for _, e := range s.Entries {
		mark := " "
		if e.Local {
			mark = "*"
		}
		fmt.Printf("%s %s  %-16s %s\n", mark, e.Date.Local().Format("15:04:05"), e.Username, e.Desc)
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
