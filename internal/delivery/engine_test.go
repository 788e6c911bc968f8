package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/certrail/certrail/pkg/mail"
)

// fakeTransport records sends and fails for configured recipients.
type fakeTransport struct {
	failFor map[string]error
	sent    []mail.Message
}

func (f *fakeTransport) Send(ctx context.Context, msg mail.Message) (string, error) {
	if err := f.failFor[msg.To]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{failFor: map[string]error{}}
	return NewEngine(newTestStore(t), transport, nil), transport
}

func testArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "certificate.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func enqueue(t *testing.T, e *Engine, name, email, artifact string) int64 {
	t.Helper()
	id, err := e.Enqueue(context.Background(), EnqueueRequest{
		Name:            name,
		Email:           email,
		CertificateType: "Completion",
		ArtifactPath:    artifact,
	})
	if err != nil {
		t.Fatalf("Enqueue(%s): %v", email, err)
	}
	return id
}

func TestEnqueueValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	artifact := testArtifact(t)

	tests := []struct {
		name string
		req  EnqueueRequest
		want error
	}{
		{"missing name", EnqueueRequest{Email: "a@b.c", CertificateType: "X", ArtifactPath: artifact}, ErrValidation},
		{"missing email", EnqueueRequest{Name: "Jane", CertificateType: "X", ArtifactPath: artifact}, ErrValidation},
		{"missing type", EnqueueRequest{Name: "Jane", Email: "a@b.c", ArtifactPath: artifact}, ErrValidation},
		{"missing artifact path", EnqueueRequest{Name: "Jane", Email: "a@b.c", CertificateType: "X"}, ErrValidation},
		{"unresolvable artifact", EnqueueRequest{Name: "Jane", Email: "a@b.c", CertificateType: "X", ArtifactPath: filepath.Join(t.TempDir(), "nope.pdf")}, ErrArtifactNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Enqueue(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEnqueueRendersDefaultContent(t *testing.T) {
	e, transport := newTestEngine(t)
	artifact := testArtifact(t)

	enqueue(t, e, "Jane Doe", "jane@example.com", artifact)
	if _, err := e.DispatchAllPending(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(transport.sent) != 1 {
		t.Fatalf("sent %d messages", len(transport.sent))
	}
	msg := transport.sent[0]
	if msg.Subject != "Your Completion Certificate" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Dear Jane Doe,") {
		t.Errorf("body missing salutation: %q", msg.Body)
	}
	if msg.AttachmentPath != artifact {
		t.Errorf("attachment = %q", msg.AttachmentPath)
	}
}

func TestEnqueueSameEmailTwice(t *testing.T) {
	e, _ := newTestEngine(t)
	artifact := testArtifact(t)
	ctx := context.Background()

	id1, err := e.Enqueue(ctx, EnqueueRequest{Name: "Jane", Email: "jane@example.com", CertificateType: "Completion", ArtifactPath: artifact})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := e.Enqueue(ctx, EnqueueRequest{Name: "Jane", Email: "jane@example.com", CertificateType: "Excellence", ArtifactPath: artifact})
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Error("expected two distinct jobs")
	}

	st := mustStats(t, e.Store())
	if st.Participants != 1 || st.TotalJobs != 2 || st.Pending != 2 {
		t.Errorf("stats: %+v", st)
	}
}

func TestDispatchAllPartialFailure(t *testing.T) {
	e, transport := newTestEngine(t)
	artifact := testArtifact(t)
	ctx := context.Background()

	enqueue(t, e, "A", "a@example.com", artifact)
	enqueue(t, e, "B", "b@example.com", artifact)
	enqueue(t, e, "C", "c@example.com", artifact)
	transport.failFor["b@example.com"] = fmt.Errorf("%w: 550 mailbox unavailable", mail.ErrTransport)

	report, err := e.DispatchAllPending(ctx)
	if err != nil {
		t.Fatalf("DispatchAllPending: %v", err)
	}
	if report.Total != 3 || report.Sent != 2 || report.Failed != 1 {
		t.Errorf("report = %+v, want {3 2 1}", report)
	}

	st := mustStats(t, e.Store())
	if st.Sent != 2 || st.Failed != 1 || st.Pending != 0 {
		t.Errorf("stats: %+v", st)
	}

	entries, err := e.Store().History(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("history = %d entries", len(entries))
	}
	byEmail := map[string]Status{}
	for _, en := range entries {
		byEmail[en.Email] = en.Status
	}
	if byEmail["a@example.com"] != StatusSent || byEmail["c@example.com"] != StatusSent {
		t.Errorf("statuses: %v", byEmail)
	}
	if byEmail["b@example.com"] != StatusFailed {
		t.Errorf("failed job status: %v", byEmail["b@example.com"])
	}
}

func TestRedispatchFailedJob(t *testing.T) {
	e, transport := newTestEngine(t)
	artifact := testArtifact(t)
	ctx := context.Background()

	id := enqueue(t, e, "Jane", "jane@example.com", artifact)
	transport.failFor["jane@example.com"] = fmt.Errorf("%w: connection reset", mail.ErrConnectivity)

	if err := e.DispatchOne(ctx, id); err == nil {
		t.Fatal("expected dispatch failure")
	}

	// Transport recovers; the failed job is re-dispatchable.
	delete(transport.failFor, "jane@example.com")
	if err := e.DispatchOne(ctx, id); err != nil {
		t.Fatalf("re-dispatch: %v", err)
	}

	entries, err := e.Store().History(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Status != StatusSent {
		t.Errorf("status = %s, want sent", entries[0].Status)
	}
	if entries[0].ErrorMessage != nil {
		t.Errorf("error not cleared: %q", *entries[0].ErrorMessage)
	}
	mustStats(t, e.Store())
}

func TestDispatchOneAlreadySent(t *testing.T) {
	e, _ := newTestEngine(t)
	artifact := testArtifact(t)
	ctx := context.Background()

	id := enqueue(t, e, "Jane", "jane@example.com", artifact)
	if err := e.DispatchOne(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := e.DispatchOne(ctx, id); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("re-dispatch of sent job: got %v, want ErrJobNotFound", err)
	}
}

func TestDispatchAllHonorsCancellation(t *testing.T) {
	e, _ := newTestEngine(t)
	artifact := testArtifact(t)

	enqueue(t, e, "A", "a@example.com", artifact)
	enqueue(t, e, "B", "b@example.com", artifact)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.DispatchAllPending(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if report != nil && report.Sent != 0 {
		t.Errorf("jobs dispatched after cancellation: %+v", report)
	}

	// Nothing was lost: both jobs remain pending for the next run.
	st := mustStats(t, e.Store())
	if st.Pending != 2 {
		t.Errorf("pending = %d, want 2", st.Pending)
	}
}

func TestDispatchSkipsConcurrentlyEnqueued(t *testing.T) {
	e, transport := newTestEngine(t)
	artifact := testArtifact(t)
	ctx := context.Background()

	enqueue(t, e, "A", "a@example.com", artifact)

	// A job staged after the snapshot is not part of this run. Simulate
	// by enqueueing from within the transport send.
	hooked := &hookTransport{inner: transport, hook: func() {
		enqueue(t, e, "Late", "late@example.com", artifact)
	}}
	e.transport = hooked

	report, err := e.DispatchAllPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 1 || report.Sent != 1 {
		t.Errorf("report = %+v, want {1 1 0}", report)
	}

	st := mustStats(t, e.Store())
	if st.Pending != 1 {
		t.Errorf("late job not left pending: %+v", st)
	}
}

type hookTransport struct {
	inner mail.Transport
	hook  func()
	fired bool
}

func (h *hookTransport) Send(ctx context.Context, msg mail.Message) (string, error) {
	if !h.fired {
		h.fired = true
		h.hook()
	}
	return h.inner.Send(ctx, msg)
}
