// Package fetch mirrors INBOX message metadata into the local store.
// This is the ingest path; rule processing never touches the remote
// listing APIs.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/mailsift/internal/gmail"
	"github.com/joshsymonds/mailsift/internal/rate"
	"github.com/joshsymonds/mailsift/internal/store"
)

const (
	defaultPageSize = 50
	defaultMaxPages = 10
)

var metadataHeaders = []string{"From", "To", "Subject", "Date"}

// Store is the slice of the mirror database the fetcher needs.
type Store interface {
	Upsert(ctx context.Context, msgs []store.Message) (int, error)
}

// Options bound one fetch run.
type Options struct {
	Query    string // Gmail query; default "in:inbox"
	PageSize int    // ids per list call; default 50
	MaxPages int    // pages per run; default 10
}

// Stats summarizes a fetch run.
type Stats struct {
	Pages    int
	Listed   int
	Inserted int
}

// Service pulls message metadata page by page and upserts it locally.
type Service struct {
	Store   Store
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
	Clock   func() time.Time
}

// NewService constructs a Service with sane defaults.
func NewService(st Store, client gmail.Client, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: st, Client: client, Limiter: limiter, Logger: logger, Clock: time.Now}
}

// Run lists messages matching the query and mirrors their metadata.
// Duplicate remote ids are skipped by the store's upsert.
func (s *Service) Run(ctx context.Context, opts Options) (Stats, error) {
	q := gmail.Query{Raw: opts.Query}
	if q.Raw == "" {
		q.Raw = "in:inbox"
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	var stats Stats
	token := ""
	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("fetch canceled: %w", err)
		}
		if err := s.wait(ctx); err != nil {
			return stats, err
		}
		listed, err := s.Client.List(ctx, q, token, pageSize)
		if err != nil {
			return stats, fmt.Errorf("list messages: %w", err)
		}
		stats.Pages++
		stats.Listed += len(listed.IDs)

		batch := make([]store.Message, 0, len(listed.IDs))
		for _, id := range listed.IDs {
			if err := s.wait(ctx); err != nil {
				return stats, err
			}
			meta, err := s.Client.GetMetadata(ctx, id, metadataHeaders)
			if err != nil {
				return stats, fmt.Errorf("get metadata %s: %w", id, err)
			}
			batch = append(batch, toStoreMessage(meta, s.Clock()))
		}
		inserted, err := s.Store.Upsert(ctx, batch)
		if err != nil {
			return stats, fmt.Errorf("upsert page: %w", err)
		}
		stats.Inserted += inserted
		s.Logger.InfoContext(ctx, "page mirrored",
			"page", page+1, "listed", len(listed.IDs), "inserted", inserted)

		if listed.NextPageToken == "" {
			break
		}
		token = listed.NextPageToken
	}
	return stats, nil
}

func (s *Service) wait(ctx context.Context) error {
	if s.Limiter == nil {
		return nil
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

func toStoreMessage(meta gmail.MessageMeta, now time.Time) store.Message {
	labels := make([]string, len(meta.Labels))
	for i, l := range meta.Labels {
		labels[i] = string(l)
	}
	return store.Message{
		ID:        string(meta.ID),
		ThreadID:  meta.ThreadID,
		HistoryID: int64(meta.HistoryID),
		From:      meta.Headers["From"],
		To:        meta.Headers["To"],
		Subject:   meta.Headers["Subject"],
		Snippet:   meta.Snippet,
		Labels:    labels,
		Received:  meta.Received,
		CreatedAt: now.UTC(),
	}
}
