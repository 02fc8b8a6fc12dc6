package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/docsync/docsync/client/internal/config"
	"github.com/docsync/docsync/pkg/discovery"
	"github.com/docsync/docsync/pkg/logging"
	"github.com/docsync/docsync/pkg/protocol"
	"github.com/docsync/docsync/pkg/syncclient"
)

func main() {
	configPath := flag.String("config", "", "path to config file; defaults apply when empty")
	docID := flag.String("doc", "", "document id to join (required)")
	flag.Parse()

	if *docID == "" {
		fmt.Fprintln(os.Stderr, "docsync-client: -doc is required")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "docsync-client: %v\n", err)
			os.Exit(1)
		}
	}
	c := cfg.Client

	logger, _, err := logging.New(os.Stderr, logging.Options{Level: c.Log.Level, Format: c.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "docsync-client: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	url, err := resolveURL(ctx, c)
	if err != nil {
		slog.Error("no server address", "err", err)
		os.Exit(1)
	}

	conn := syncclient.New(syncclient.Options{
		URL:        url,
		UserID:     c.UserID,
		BaseDelay:  c.Reconnect.BaseDelay,
		MaxRetries: c.Reconnect.MaxRetries,
		Logger:     logger,
		OnStateChange: func(st syncclient.State) {
			slog.Info("connection", "state", st.String())
			if st == syncclient.StateFailed {
				cancel()
			}
		},
	})
	conn.Start(ctx)
	conn.Connect()

	slog.Info("docsync-client starting", "url", url, "doc", *docID, "user", conn.UserID())

	sess := syncclient.NewSession(conn, *docID, syncclient.SessionOptions{
		EditDelay:   c.Debounce.Edit,
		CursorDelay: c.Debounce.Cursor,
		OnRemoteUpdate: func(title, content string) {
			slog.Info("document", "title", title, "content", content)
		},
		OnNotice: func(n syncclient.Notice) {
			if n.Kind == syncclient.NoticeError {
				slog.Warn(n.Message)
				return
			}
			slog.Info(n.Message)
		},
		OnPresence: func(n int) {
			slog.Info("presence", "active_users", n)
		},
		OnCursor: func(userID string, cs *syncclient.CursorState) {
			if cs == nil {
				slog.Info("cursor removed", "user", userID)
				return
			}
			slog.Info("cursor", "user", userID, "index", cs.Range.Index, "length", cs.Range.Length)
		},
		OnSaved: func(at time.Time) {
			slog.Debug("saved", "at", at.Format(time.RFC3339))
		},
	})

	lines := make(chan string)
	go readLines(lines)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			apply(sess, line)
		}
	}

	sess.Close()
	conn.Stop()
	slog.Info("docsync-client stopped")
}

// resolveURL returns the configured endpoint, or browses mDNS when none is set.
func resolveURL(ctx context.Context, c config.ClientConfig) (string, error) {
	if c.ServerURL != "" {
		return c.WebSocketURL()
	}
	ctx, cancel := context.WithTimeout(ctx, c.Discovery.Timeout)
	defer cancel()
	u, err := discovery.Lookup(ctx, c.Discovery.Service, c.Discovery.Domain)
	if errors.Is(err, discovery.ErrNotFound) {
		return "", fmt.Errorf("server_url is empty and no server answered on %s within %s", c.Discovery.Service, c.Discovery.Timeout)
	}
	return u, err
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// apply turns one input line into a session call:
//
//	/title <text>          set the title, keeping the content
//	/cursor <index> <len>  move the local cursor
//	/hide                  withdraw the local cursor
//	anything else          replace the content
func apply(s *syncclient.Session, line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/title":
		s.EditTitle(arg)
	case "/cursor":
		r, err := parseRange(arg)
		if err != nil {
			slog.Warn("usage: /cursor <index> <length>", "err", err)
			return
		}
		s.MoveCursor(r)
	case "/hide":
		s.HideCursor()
	default:
		s.EditContent(line)
	}
}

func parseRange(arg string) (protocol.Range, error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return protocol.Range{}, fmt.Errorf("want 2 numbers, got %d", len(fields))
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return protocol.Range{}, err
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return protocol.Range{}, err
	}
	if idx < 0 || n < 0 {
		return protocol.Range{}, fmt.Errorf("negative range %d,%d", idx, n)
	}
	return protocol.Range{Index: idx, Length: n}, nil
}
