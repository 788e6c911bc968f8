package delivery

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

// testSchema mirrors migrations/ in sqlite dialect so store tests run
// against real SQL without a postgres server.
const testSchema = `
CREATE TABLE participants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	organization TEXT,
	phone TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE certificates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	participant_id INTEGER NOT NULL REFERENCES participants (id),
	certificate_type TEXT NOT NULL,
	artifact_path TEXT NOT NULL,
	email_subject TEXT,
	email_body TEXT,
	sent_at TIMESTAMP,
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return NewStore(db)
}

func strptr(s string) *string { return &s }

func mustStats(t *testing.T, s *Store) *Statistics {
	t.Helper()
	st, err := s.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if st.Sent+st.Pending+st.Failed != st.TotalJobs {
		t.Fatalf("count invariant broken: %+v", st)
	}
	return st
}

func TestUpsertParticipantFirstWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertParticipant(ctx, "Jane Doe", "Jane@Example.com", strptr("Acme"), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Same email, different casing and fields: same id, nothing changed.
	id2, err := s.UpsertParticipant(ctx, "J. Doe", "  jane@example.COM ", strptr("Other Org"), strptr("555"))
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("upsert not idempotent: %d vs %d", id1, id2)
	}

	p, err := s.GetParticipant(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Jane Doe" {
		t.Errorf("name overwritten: %q", p.Name)
	}
	if p.Organization == nil || *p.Organization != "Acme" {
		t.Errorf("organization overwritten: %v", p.Organization)
	}
	if p.Phone != nil {
		t.Errorf("phone backfilled by second write: %v", p.Phone)
	}
	if p.Email != "jane@example.com" {
		t.Errorf("email not normalized: %q", p.Email)
	}

	if st := mustStats(t, s); st.Participants != 1 {
		t.Errorf("participants = %d, want 1", st.Participants)
	}
}

func TestUpsertParticipantValidation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.UpsertParticipant(context.Background(), "", "a@b.c", nil, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty name: got %v", err)
	}
	if _, err := s.UpsertParticipant(context.Background(), "Jane", "   ", nil, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty email: got %v", err)
	}
}

func TestListPendingOrderAndStatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pid, err := s.UpsertParticipant(ctx, "Jane", "jane@example.com", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	var ids []int64
	for _, typ := range []string{"first", "second", "third"} {
		id, err := s.CreateJob(ctx, pid, typ, "/tmp/cert.pdf", "s", "b")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	if err := s.MarkSent(ctx, ids[1]); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].ID != ids[0] || pending[1].ID != ids[2] {
		t.Errorf("pending not oldest-first: %d, %d", pending[0].ID, pending[1].ID)
	}
	if pending[0].Email != "jane@example.com" || pending[0].CertificateType != "first" {
		t.Errorf("join fields wrong: %+v", pending[0])
	}
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pid, _ := s.UpsertParticipant(ctx, "Jane", "jane@example.com", nil, nil)
	id, err := s.CreateJob(ctx, pid, "Completion", "/tmp/cert.pdf", "s", "b")
	if err != nil {
		t.Fatal(err)
	}

	// pending -> failed records the error and leaves sent_at unset.
	if err := s.MarkFailed(ctx, id, "smtp 421"); err != nil {
		t.Fatal(err)
	}
	job, err := s.GetDispatchable(ctx, id)
	if err != nil {
		t.Fatalf("failed job should stay dispatchable: %v", err)
	}
	if job.Status != StatusFailed || job.ErrorMessage == nil || *job.ErrorMessage != "smtp 421" {
		t.Errorf("after MarkFailed: %+v", job)
	}
	if job.SentAt != nil {
		t.Error("sent_at set on failed job")
	}

	// failed -> sent clears the error and stamps sent_at.
	if err := s.MarkSent(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDispatchable(ctx, id); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("sent job still dispatchable: %v", err)
	}

	entries, err := s.History(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("history = %d entries", len(entries))
	}
	e := entries[0]
	if e.Status != StatusSent || e.ErrorMessage != nil || e.SentAt == nil {
		t.Errorf("after MarkSent: %+v", e)
	}

	st := mustStats(t, s)
	if st.Sent != 1 || st.Pending != 0 || st.Failed != 0 {
		t.Errorf("stats: %+v", st)
	}
}

func TestMarkUnknownJob(t *testing.T) {
	s := newTestStore(t)
	if err := s.MarkSent(context.Background(), 9999); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("MarkSent unknown: %v", err)
	}
	if err := s.MarkFailed(context.Background(), 9999, "x"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("MarkFailed unknown: %v", err)
	}
}

func TestHistoryNewestFirstBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pid, _ := s.UpsertParticipant(ctx, "Jane", "jane@example.com", nil, nil)
	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.CreateJob(ctx, pid, "Completion", "/tmp/cert.pdf", "s", "b")
		if err != nil {
			t.Fatal(err)
		}
		last = id
	}

	entries, err := s.History(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("history = %d entries, want 3", len(entries))
	}
	if entries[0].JobID != last {
		t.Errorf("history not newest-first: first entry job %d, want %d", entries[0].JobID, last)
	}
}
