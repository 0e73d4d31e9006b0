package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// newTestPostgresStore connects to POPQUIZ_TEST_POSTGRES_DSN and skips the
// test when it is unset.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("POPQUIZ_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POPQUIZ_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func uniqueSession(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestPostgresWindowQueries(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()
	session := uniqueSession(t)
	other := session + "-other"

	for _, s := range [][2]int{{200, 260}, {0, 60}, {100, 160}} {
		if _, err := store.InsertTranscript(ctx, session, at(s[0]), at(s[1]), "chunk"); err != nil {
			t.Fatalf("InsertTranscript failed: %v", err)
		}
	}
	if _, err := store.InsertTranscript(ctx, other, at(100), at(160), "other"); err != nil {
		t.Fatalf("InsertTranscript failed: %v", err)
	}

	got, err := store.FetchInWindow(ctx, session, at(150), at(250))
	if err != nil {
		t.Fatalf("FetchInWindow failed: %v", err)
	}
	if len(got) != 2 || !got[0].StartTime.Equal(at(100)) {
		t.Fatalf("unexpected window result: %#v", got)
	}

	since, err := store.FetchSince(ctx, session, at(160))
	if err != nil {
		t.Fatalf("FetchSince failed: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("expected 2 transcripts since cutoff, got %d", len(since))
	}
}

func TestPostgresSummaries(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()
	session := uniqueSession(t)

	if _, ok, err := store.LatestSummaryEnd(ctx, session); err != nil || ok {
		t.Fatalf("expected no summary yet, got ok=%v err=%v", ok, err)
	}

	rec, err := store.InsertSummary(ctx, session, at(0), at(300), "- point")
	if err != nil {
		t.Fatalf("InsertSummary failed: %v", err)
	}
	if rec.ID == 0 || rec.CreatedAt.IsZero() {
		t.Fatalf("expected store-assigned fields, got %#v", rec)
	}

	end, ok, err := store.LatestSummaryEnd(ctx, session)
	if err != nil || !ok || !end.Equal(at(300)) {
		t.Fatalf("unexpected latest summary end %s ok=%v err=%v", end, ok, err)
	}

	all, err := store.FetchAllSummaries(ctx, session)
	if err != nil {
		t.Fatalf("FetchAllSummaries failed: %v", err)
	}
	if len(all) != 1 || all[0].SummaryText != "- point" {
		t.Fatalf("unexpected summaries: %#v", all)
	}
}
