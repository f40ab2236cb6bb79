package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/readreceipts/internal/auth"
	"github.com/victorivanov/readreceipts/internal/database"
	redisclient "github.com/victorivanov/readreceipts/internal/redis"
	"github.com/victorivanov/readreceipts/internal/service"
)

// Set via -ldflags at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "migrate":
		if hasFlag("--help", args) {
			fmt.Println("Usage: receipts-cli migrate")
			fmt.Println()
			fmt.Println("Run database migrations from the migrations/ directory.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
			return
		}
		os.Exit(runMigrate())
	case "seed":
		if hasFlag("--help", args) {
			fmt.Println("Usage: receipts-cli seed")
			fmt.Println()
			fmt.Println("Seed demo data: 3 users in #general and a few posts.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
			return
		}
		os.Exit(runSeed())
	case "health":
		if hasFlag("--help", args) {
			fmt.Println("Usage: receipts-cli health")
			fmt.Println()
			fmt.Println("Check if the server is running.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  SERVER_URL  Server base URL (default: http://localhost:8080)")
			return
		}
		os.Exit(runHealth())
	case "view":
		if hasFlag("--help", args) || len(args) < 1 {
			fmt.Println("Usage: receipts-cli view <channel_id>")
			fmt.Println()
			fmt.Println("Mark a channel as viewed, moving the read cursor to its newest post.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  SERVER_URL  Server base URL (default: http://localhost:8080)")
			fmt.Println("  AUTH_TOKEN  Access token (required)")
			return
		}
		os.Exit(runView(args[0]))
	case "token":
		if hasFlag("--help", args) || len(args) < 1 {
			fmt.Println("Usage: receipts-cli token <user_id> [ttl]")
			fmt.Println()
			fmt.Println("Issue an access token for a user, e.g. 'token alice 1h'.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  JWT_SECRET  Token signing secret (required)")
			return
		}
		os.Exit(runToken(args))
	case "cleanup":
		if hasFlag("--help", args) || len(args) < 1 {
			fmt.Println("Usage: receipts-cli cleanup <days>")
			fmt.Println()
			fmt.Println("Delete read cursors not updated within the last <days> days.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
			return
		}
		os.Exit(runCleanup(args[0]))
	case "events":
		if hasFlag("--help", args) {
			fmt.Println("Usage: receipts-cli events [after_id] [count]")
			fmt.Println()
			fmt.Println("Print read cursor events from the Redis stream.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  REDIS_URL  Redis connection string (default: redis://localhost:6379)")
			return
		}
		os.Exit(runEvents(args))
	case "watch":
		if hasFlag("--help", args) || len(args) < 1 {
			fmt.Println("Usage: receipts-cli watch <channel_id> [post_id...]")
			fmt.Println()
			fmt.Println("Follow read cursors of a channel over the gateway and show the")
			fmt.Println("read indicator of each post.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  SERVER_URL             Server base URL (default: http://localhost:8080)")
			fmt.Println("  GATEWAY_URL            Gateway URL (default: derived from SERVER_URL)")
			fmt.Println("  AUTH_TOKEN             Access token (required)")
			fmt.Println("  READ_COUNT_RPS         Read count requests per second (default: 10)")
			fmt.Println("  INDICATOR_MIN_VISIBLE  Visibility before a count fetch (default: 500ms)")
			return
		}
		os.Exit(runWatch(args[0], args[1:]))
	case "readers":
		if hasFlag("--help", args) || len(args) < 1 {
			fmt.Println("Usage: receipts-cli readers <post_id> [limit]")
			fmt.Println()
			fmt.Println("Show who has read a post.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  SERVER_URL  Server base URL (default: http://localhost:8080)")
			fmt.Println("  AUTH_TOKEN  Access token (required)")
			return
		}
		os.Exit(runReaders(args))
	case "version":
		fmt.Printf("receipts-cli %s\n", version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: receipts-cli <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate  Run database migrations")
	fmt.Println("  seed     Seed demo data (users, channel members, posts)")
	fmt.Println("  health   Check if the server is running")
	fmt.Println("  token    Issue an access token")
	fmt.Println("  cleanup  Delete stale read cursors")
	fmt.Println("  events   Print the read cursor event stream")
	fmt.Println("  view     Mark a channel as viewed")
	fmt.Println("  watch    Follow read cursors and read counts live")
	fmt.Println("  readers  Show who has read a post")
	fmt.Println("  version  Print version info")
	fmt.Println()
	fmt.Println("Run 'receipts-cli <command> --help' for details on a command.")
}

func hasFlag(flag string, args []string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "error: %s environment variable is required\n", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --- migrate ---

func runMigrate() int {
	dbURL := requireEnv("DATABASE_URL")

	fmt.Println("connecting to database...")
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: migration init failed: %v\n", err)
		return 1
	}
	defer m.Close()

	fmt.Println("running migrations...")
	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "error: migration failed: %v\n", err)
		return 1
	}

	v, dirty, _ := m.Version()
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Printf("no new migrations (current version: %d)\n", v)
	} else {
		fmt.Printf("migrations applied (version: %d, dirty: %v)\n", v, dirty)
	}
	return 0
}

// --- seed ---

func runSeed() int {
	dbURL := requireEnv("DATABASE_URL")
	ctx := context.Background()

	fmt.Println("connecting to database...")
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: database connection failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: database ping failed: %v\n", err)
		return 1
	}

	now := time.Now().UnixMilli()

	tx, err := pool.Begin(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: starting transaction: %v\n", err)
		return 1
	}
	defer tx.Rollback(ctx)

	fmt.Println("creating users...")
	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, username, first_name, last_name) VALUES ($1,$2,$3,$4), ($5,$6,$7,$8), ($9,$10,$11,$12)
		 ON CONFLICT (id) DO NOTHING`,
		"alice", "alice", "Alice", "Liddell",
		"bob", "bob", "", "",
		"carol", "carol", "Carol", "Danvers",
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating users: %v\n", err)
		return 1
	}

	fmt.Println("creating channel members...")
	_, err = tx.Exec(ctx,
		`INSERT INTO channel_members (channel_id, user_id) VALUES ($1,$2), ($1,$3), ($1,$4)
		 ON CONFLICT (channel_id, user_id) DO NOTHING`,
		"general", "alice", "bob", "carol",
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating channel members: %v\n", err)
		return 1
	}

	fmt.Println("creating posts...")
	_, err = tx.Exec(ctx,
		`INSERT INTO posts (id, channel_id, user_id, create_at) VALUES ($1,$2,$3,$4), ($5,$6,$7,$8), ($9,$10,$11,$12)
		 ON CONFLICT (id) DO NOTHING`,
		"post-1", "general", "alice", now-2000,
		"post-2", "general", "bob", now-1000,
		"post-3", "general", "alice", now,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating posts: %v\n", err)
		return 1
	}

	if err := tx.Commit(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: committing transaction: %v\n", err)
		return 1
	}

	fmt.Println()
	fmt.Println("seed complete:")
	fmt.Printf("  users:   alice, bob, carol\n")
	fmt.Printf("  channel: general (all three users)\n")
	fmt.Printf("  posts:   post-1, post-2, post-3 in general\n")
	return 0
}

// --- token ---

func runToken(args []string) int {
	secret := requireEnv("JWT_SECRET")
	ttl := auth.DefaultTokenExpiry
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "error: invalid ttl %q\n", args[1])
			return 1
		}
		ttl = d
	}

	token, err := auth.NewTokenService(secret).GenerateAccessTokenWithExpiry(args[0], ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: issuing token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

// --- cleanup ---

func runCleanup(rawDays string) int {
	dbURL := requireEnv("DATABASE_URL")
	days, err := strconv.Atoi(rawDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: days must be an integer, got %q\n", rawDays)
		return 1
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: database connection failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := service.NewReadCursorService(
		database.NewReadCursorRepository(pool),
		database.NewPostRepository(pool),
		database.NewChannelMemberRepository(pool),
		nil, nil, nil, nil, 0,
	)
	n, err := svc.CleanupOldReadCursors(ctx, days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cleanup failed: %v\n", err)
		return 1
	}
	fmt.Printf("deleted %d read cursors older than %d days\n", n, days)
	return 0
}

// --- events ---

func runEvents(args []string) int {
	after := ""
	if len(args) > 0 {
		after = args[0]
	}
	count := int64(100)
	if len(args) > 1 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "error: invalid count %q\n", args[1])
			return 1
		}
		count = n
	}

	rdb, err := redisclient.NewClient(envOr("REDIS_URL", "redis://localhost:6379"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: redis: %v\n", err)
		return 1
	}
	defer rdb.Close()

	events, last, err := rdb.ReadCursorEvents(context.Background(), after, count)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading events: %v\n", err)
		return 1
	}
	for _, ev := range events {
		fmt.Printf("%s  %s  channel=%s user=%s seq=%d->%d\n",
			time.UnixMilli(ev.Timestamp).UTC().Format(time.RFC3339), ev.EventID,
			ev.ChannelID, ev.UserID, ev.PrevLastSeq, ev.NewLastSeq)
	}
	if last != "" {
		fmt.Printf("last id: %s\n", last)
	}
	return 0
}
