package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/victorivanov/readreceipts/internal/actions"
	"github.com/victorivanov/readreceipts/internal/client"
	"github.com/victorivanov/readreceipts/internal/config"
	"github.com/victorivanov/readreceipts/internal/gateway"
	"github.com/victorivanov/readreceipts/internal/readstore"
	"github.com/victorivanov/readreceipts/internal/views"
)

func newLogger(cfg *config.ClientConfig) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
}

// --- health ---

func runHealth() int {
	cfg := config.LoadClient()
	fmt.Printf("checking %s/health ...\n", cfg.ServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.New(cfg.ServerURL, "").Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Println("server is healthy")
	return 0
}

// --- view ---

func runView(channelID string) int {
	cfg := config.LoadClient()
	if cfg.AuthToken == "" {
		fmt.Fprintln(os.Stderr, "error: AUTH_TOKEN environment variable is required")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	api := client.New(cfg.ServerURL, cfg.AuthToken)
	if err := api.ViewChannel(ctx, channelID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	cursor, err := api.GetReadCursor(ctx, channelID)
	if client.IsNotFound(err) {
		fmt.Println("channel has no posts yet")
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("read cursor for %s is at %d (post %s)\n", channelID, cursor.LastPostSeq, cursor.LastPostID)
	return 0
}

// --- readers ---

func runReaders(args []string) int {
	cfg := config.LoadClient()
	if cfg.AuthToken == "" {
		fmt.Fprintln(os.Stderr, "error: AUTH_TOKEN environment variable is required")
		return 1
	}
	postID := args[0]
	limit := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid limit %q\n", args[1])
			return 1
		}
		limit = n
	}

	logger := newLogger(cfg)
	store := readstore.NewStore(logger)
	api := client.New(cfg.ServerURL, cfg.AuthToken)
	rr := actions.New(api, store, nil, logger)

	fmt.Println(views.RenderModal(views.ModalPropsFromReaders(postID, "", nil, true)).Title)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	readers, err := rr.FetchPostReaders(ctx, postID, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	view := views.RenderModal(views.ModalPropsFromReaders(postID, "", readers, false))
	fmt.Println(view.Title)
	if view.Empty {
		fmt.Println("  " + view.EmptyText)
	}
	for _, row := range view.Rows {
		fmt.Printf("  %s (%s)\n", row.DisplayName, row.Handle)
	}
	if view.Overflow > 0 {
		fmt.Println("  " + view.OverflowText)
	}
	return 0
}

// --- watch ---

func runWatch(channelID string, postIDs []string) int {
	cfg := config.LoadClient()
	if cfg.AuthToken == "" {
		fmt.Fprintln(os.Stderr, "error: AUTH_TOKEN environment variable is required")
		return 1
	}
	logger := newLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	store := readstore.NewStore(logger)
	defer store.Reset()

	api := client.New(cfg.ServerURL, cfg.AuthToken, client.WithReceiptsRateLimit(cfg.ReadCountRPS, 1))
	rr := actions.New(api, store, nil, logger)

	unwatch := watchChannelCursors(store, channelID)
	defer unwatch()

	if _, err := rr.FetchReadCursor(ctx, channelID); err != nil && !client.IsNotFound(err) {
		fmt.Fprintf(os.Stderr, "error: fetching read cursor: %v\n", err)
		return 1
	}

	scheduler := views.NewScheduler(nil)
	for _, postID := range postIDs {
		ind := views.NewIndicator(store, rr, postID,
			views.WithScheduler(scheduler),
			views.WithMinVisibleDuration(cfg.IndicatorMinVisible),
			views.WithLogger(logger),
		)
		defer ind.Close()

		ind.OnChange(func(p views.IndicatorProps) {
			if v, ok := p.Render(); ok {
				fmt.Printf("%s: %s\n", postID, v.Label)
			}
		})
		// Every post listed is treated as on screen.
		ind.Visible()
	}

	gw := gateway.NewClient(cfg.GatewayURL, cfg.AuthToken, rr, gateway.WithClientLogger(logger))
	fmt.Printf("watching %s (ctrl-c to stop)\n", channelID)
	if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: gateway: %v\n", err)
		return 1
	}
	return 0
}

// watchChannelCursors prints every cursor of channelID that changes.
func watchChannelCursors(store *readstore.Store, channelID string) func() {
	var mu sync.Mutex
	last := store.State().Cursors[channelID]
	return store.Subscribe(func(state readstore.State) {
		mu.Lock()
		defer mu.Unlock()
		current := state.Cursors[channelID]
		for userID, c := range current {
			if prev, ok := last[userID]; ok && prev == c {
				continue
			}
			fmt.Printf("%s read up to %d in %s\n", userID, c.LastPostSeq, channelID)
		}
		last = current
	})
}
