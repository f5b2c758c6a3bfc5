package fetch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joshsymonds/mailsift/internal/gmail"
	"github.com/joshsymonds/mailsift/internal/store"
)

type fakeClient struct {
	pages       []gmail.ListPage
	listQueries []string
	metas       map[gmail.MessageID]gmail.MessageMeta
}

func (f *fakeClient) List(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ListPage, error) {
	_ = ctx
	_ = pageToken
	_ = pageSize
	f.listQueries = append(f.listQueries, q.Raw)
	if len(f.pages) == 0 {
		return gmail.ListPage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeClient) GetMetadata(ctx context.Context, id gmail.MessageID, headers []string) (gmail.MessageMeta, error) {
	_ = ctx
	_ = headers
	if meta, ok := f.metas[id]; ok {
		return meta, nil
	}
	return gmail.MessageMeta{ID: id, Headers: map[string]string{}}, nil
}

func (f *fakeClient) Modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	_ = ctx
	_ = id
	_ = ops
	return nil
}

func (f *fakeClient) ListLabels(ctx context.Context) (map[string]gmail.LabelID, map[gmail.LabelID]string, error) {
	_ = ctx
	return nil, nil, nil
}

func (f *fakeClient) EnsureLabel(ctx context.Context, name string) (gmail.LabelID, error) {
	_ = ctx
	_ = name
	return "", nil
}

type fakeStore struct {
	seen    map[string]bool
	batches [][]store.Message
}

func (f *fakeStore) Upsert(ctx context.Context, msgs []store.Message) (int, error) {
	_ = ctx
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	f.batches = append(f.batches, msgs)
	inserted := 0
	for _, m := range msgs {
		if !f.seen[m.ID] {
			f.seen[m.ID] = true
			inserted++
		}
	}
	return inserted, nil
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunMirrorsPages(t *testing.T) {
	client := &fakeClient{
		pages: []gmail.ListPage{
			{IDs: []gmail.MessageID{"a", "b"}, NextPageToken: "next"},
			{IDs: []gmail.MessageID{"c"}},
		},
		metas: map[gmail.MessageID]gmail.MessageMeta{
			"a": {
				ID:       "a",
				ThreadID: "t1",
				Headers:  map[string]string{"From": "x@example.com", "Subject": "hello"},
				Snippet:  "hi",
				Labels:   []gmail.LabelID{"INBOX"},
				Received: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}
	st := &fakeStore{}
	svc := NewService(st, client, nil, slogDiscard())
	svc.Clock = func() time.Time { return time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC) }

	stats, err := svc.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stats.Pages != 2 || stats.Listed != 3 || stats.Inserted != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(client.listQueries) != 2 || client.listQueries[0] != "in:inbox" {
		t.Fatalf("queries = %v", client.listQueries)
	}
	if len(st.batches) != 2 || len(st.batches[0]) != 2 {
		t.Fatalf("unexpected upsert batching: %d batches", len(st.batches))
	}
	first := st.batches[0][0]
	if first.ID != "a" || first.From != "x@example.com" || first.Subject != "hello" ||
		first.ThreadID != "t1" || len(first.Labels) != 1 || first.Labels[0] != "INBOX" {
		t.Fatalf("mapped message = %+v", first)
	}
	if first.CreatedAt.IsZero() {
		t.Fatalf("created_at not stamped")
	}
}

func TestRunHonorsMaxPages(t *testing.T) {
	client := &fakeClient{
		pages: []gmail.ListPage{
			{IDs: []gmail.MessageID{"a"}, NextPageToken: "p2"},
			{IDs: []gmail.MessageID{"b"}, NextPageToken: "p3"},
			{IDs: []gmail.MessageID{"c"}},
		},
	}
	st := &fakeStore{}
	svc := NewService(st, client, nil, slogDiscard())

	stats, err := svc.Run(context.Background(), Options{MaxPages: 2})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stats.Pages != 2 || stats.Listed != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRunDeduplicatesAcrossRuns(t *testing.T) {
	st := &fakeStore{}
	makeClient := func() *fakeClient {
		return &fakeClient{pages: []gmail.ListPage{{IDs: []gmail.MessageID{"a", "b"}}}}
	}

	svc := NewService(st, makeClient(), nil, slogDiscard())
	stats, err := svc.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if stats.Inserted != 2 {
		t.Fatalf("first run inserted %d", stats.Inserted)
	}

	svc.Client = makeClient()
	stats, err = svc.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if stats.Inserted != 0 {
		t.Fatalf("second run inserted %d, want 0", stats.Inserted)
	}
}
