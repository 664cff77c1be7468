// Command syncsim drives the synchronization engine from a script of
// protocol requests, standing in for a thin client. Requests are read as
// JSON lines from a script file (or stdin), each is processed as its own
// transaction, and every response is printed as JSON. Server-generated
// follow-up requests (LoadPage and Continue) are followed automatically,
// the way a real client would.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/uisync/uisync/core/protocol"
	"github.com/uisync/uisync/engine"
	"github.com/uisync/uisync/respond"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to engine config JSON or YAML file")
		scriptFile = flag.String("script", "", "Path to request script, one JSON request per line (default stdin)")
		sessionID  = flag.String("session", "", "Existing session id to resume (default: create a new session)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := engine.DefaultConfig()
	if *configFile != "" {
		loaded, err := engine.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}

	e, err := engine.New(&cfg)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	registerDemoPages(e.Registry())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	id := *sessionID
	if id == "" {
		sess, err := e.Store().Create(ctx)
		if err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
		id = sess.ID
		fmt.Fprintf(os.Stderr, "session: %s\n", id)
	}

	input := os.Stdin
	if *scriptFile != "" {
		f, err := os.Open(*scriptFile)
		if err != nil {
			log.Fatalf("Failed to open script: %v", err)
		}
		defer f.Close()
		input = f
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			log.Fatalf("Bad request on line %d: %v", line, err)
		}

		if err := runTransaction(ctx, e, id, &req, out); err != nil {
			log.Fatalf("Transaction on line %d failed: %v", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Failed to read script: %v", err)
	}
}

// runTransaction processes one scripted request and every server-generated
// follow-up it chains to. Continue requests are pure listens: the engine is
// not re-entered, only the transaction's response channel is read.
func runTransaction(ctx context.Context, e *engine.Engine, sessionID string, req *protocol.Request, out *json.Encoder) error {
	for req != nil {
		if req.Mode != protocol.ModeContinue {
			sess, err := e.Store().Get(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("failed to load session: %w", err)
			}
			go e.Process(ctx, sess, req)
		}

		resp, err := e.Broker().Read(ctx, respond.Key(sessionID, req.TransactionID))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if err := out.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}

		req = resp.NextRequest
	}
	return nil
}
