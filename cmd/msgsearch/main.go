// Command msgsearch indexes and searches a local Messages database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sgildea/msgsearch/internal/contacts"
	"github.com/sgildea/msgsearch/internal/embedder"
	"github.com/sgildea/msgsearch/internal/hybrid"
	"github.com/sgildea/msgsearch/internal/mcpserv"
	"github.com/sgildea/msgsearch/internal/messagedb"
	"github.com/sgildea/msgsearch/internal/sqlitedb"
)

var (
	version = "dev"

	dbPath   string
	indexDir string
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(0)

	root := &cobra.Command{
		Use:           "msgsearch",
		Short:         "Search your message history",
		Version:       fmt.Sprintf("%s (driver %s, %s build)", version, sqlitedb.DriverName, sqlitedb.BuildMode),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to the Messages database (default: the system chat.db)")
	root.PersistentFlags().StringVar(&indexDir, "index-dir", "", "directory for index files (default: ~/.msgsearch)")

	root.AddCommand(indexCmd(), searchCmd(), statsCmd(), chatsCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("msgsearch: %v", err)
	}
}

func resolvePaths() (string, string, error) {
	db := dbPath
	if db == "" {
		db = messagedb.DefaultPath()
	}
	dir := indexDir
	if dir == "" {
		dir = mcpserv.DefaultIndexDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create index directory: %w", err)
	}
	return db, dir, nil
}

// newSearcher opens the message store and wires the search engine.
// Callers close both via the returned cleanup.
func newSearcher() (*hybrid.Searcher, func(), error) {
	db, dir, err := resolvePaths()
	if err != nil {
		return nil, nil, err
	}

	store, err := messagedb.Open(db, contacts.NewCached(contacts.None{}, 0))
	if err != nil {
		return nil, nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil && !errors.Is(err, embedder.ErrBackendUnavailable) {
		_ = store.Close()
		return nil, nil, err
	}

	s := hybrid.New(hybrid.Config{
		FTSPath:      filepath.Join(dir, "search.db"),
		SemanticPath: filepath.Join(dir, "semantic.db"),
		Source:       store,
		Embedder:     emb,
	})
	cleanup := func() {
		_ = s.Close()
		_ = store.Close()
	}
	return s, cleanup, nil
}

func indexCmd() *cobra.Command {
	var semantic, rebuild bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the search indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := newSearcher()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := s.BuildIndexes(cmd.Context(), hybrid.BuildOptions{
				IncludeSemantic: semantic,
				FullRebuild:     rebuild,
				OnProgress: func(stage string, indexed int, total *int) {
					if total != nil {
						log.Printf("%s: indexed %d of %d", stage, indexed, *total)
					} else {
						log.Printf("%s: indexed %d", stage, indexed)
					}
				},
			})
			if err != nil {
				return err
			}

			fmt.Printf("indexed %d messages\n", stats.FTSIndexed)
			if semantic {
				if stats.SemanticAvailable {
					fmt.Printf("embedded %d messages\n", stats.SemanticIndexed)
				} else {
					fmt.Println("semantic index skipped: no embedding backend configured")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&semantic, "semantic", false, "also build the embedding index")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "drop and rebuild from scratch")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		mode   string
		chatID int64
		since  string
		before string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := newSearcher()
			if err != nil {
				return err
			}
			defer cleanup()

			opts := hybrid.Options{
				Mode:   hybrid.Mode(mode),
				ChatID: chatID,
				Limit:  limit,
			}
			if opts.After, err = parseTimeFlag(since); err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			if opts.Before, err = parseTimeFlag(before); err != nil {
				return fmt.Errorf("invalid --before: %w", err)
			}

			results, err := s.Search(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Println("no results")
				return nil
			}
			for _, r := range results {
				text := r.Snippet
				if text == "" {
					text = r.Text
				}
				fmt.Printf("[%.3f] chat %d  %s  %s\n", r.CombinedScore, r.ChatID,
					r.Date.Format("2006-01-02 15:04"), text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "hybrid", "search mode: keyword, stemmed, semantic, or hybrid")
	cmd.Flags().Int64Var(&chatID, "chat", 0, "restrict to one chat id")
	cmd.Flags().StringVar(&since, "since", "", "only messages after this date (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&before, "before", "", "only messages before this date")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show search index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := newSearcher()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := s.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("text index: %d messages, %d bytes (%s)\n",
				stats.FTS.IndexedMessages, stats.FTS.SizeBytes, stats.FTS.Stemmer.Algorithm)
			if !stats.FTS.LastMessageDate.IsZero() {
				fmt.Printf("latest indexed message: %s\n", stats.FTS.LastMessageDate.Format("2006-01-02 15:04"))
			}
			if stats.Semantic != nil && stats.Semantic.ModelAvailable {
				fmt.Printf("semantic index: %d messages, dimension %d, model %s\n",
					stats.Semantic.IndexedMessages, stats.Semantic.Dimension, stats.Semantic.ModelName)
			} else {
				fmt.Println("semantic index: unavailable (no embedding backend configured)")
			}
			return nil
		},
	}
}

func chatsCmd() *cobra.Command {
	var (
		limit   int
		service string
	)

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List conversations by recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := resolvePaths()
			if err != nil {
				return err
			}
			store, err := messagedb.Open(db, contacts.NewCached(contacts.None{}, 0))
			if err != nil {
				return err
			}
			defer store.Close()

			chats, err := store.Chats(cmd.Context(), service, limit)
			if err != nil {
				return err
			}
			for _, c := range chats {
				name := c.DisplayName
				if name == "" {
					name = c.Identifier
				}
				fmt.Printf("%6d  %-30s  %5d messages  %s\n", c.ID, name, c.MessageCount,
					c.LastMessageDate.Format("2006-01-02"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum chats")
	cmd.Flags().StringVar(&service, "service", "", "restrict to one service (iMessage, SMS)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the search engine over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Printf("msgsearch MCP server v%s starting (driver %s, %s build)",
				version, sqlitedb.DriverName, sqlitedb.BuildMode)

			srv, err := mcpserv.NewServer(dbPath, indexDir)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				log.Println("MCP server ready, listening on stdio...")
				errChan <- srv.Serve(ctx)
			}()

			select {
			case sig := <-sigChan:
				log.Printf("received signal %v, shutting down", sig)
				cancel()
				return nil
			case err := <-errChan:
				return err
			}
		},
	}
}

func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
	}
	return t, err
}
