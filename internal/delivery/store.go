package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store is the durable record of participants and delivery jobs. It is
// the single owner of both tables; callers mutate them only through the
// operations below, each of which is safe to call repeatedly without
// corrupting aggregate counts.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NormalizeEmail is the participant identity key: trimmed, lowercased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UpsertParticipant returns the id for the given email, inserting the
// participant on first sight. First write wins: an existing row is
// returned untouched, whatever name/organization/phone it was stored
// with. This is the idempotence contract enqueue relies on.
func (s *Store) UpsertParticipant(ctx context.Context, name, email string, organization, phone *string) (int64, error) {
	email = NormalizeEmail(email)
	if name == "" || email == "" {
		return 0, fmt.Errorf("%w: name and email are required", ErrValidation)
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO participants (name, email, organization, phone, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING
		RETURNING id
	`, name, email, organization, phone, time.Now().UTC()).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("insert participant: %w", err)
	}

	// Conflict path: the email already exists.
	err = s.db.QueryRowContext(ctx, `SELECT id FROM participants WHERE email = $1`, email).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("select participant: %w", err)
	}
	return id, nil
}

// GetParticipant loads one participant by id.
func (s *Store) GetParticipant(ctx context.Context, id int64) (*Participant, error) {
	var p Participant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, organization, phone, created_at
		FROM participants WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Organization, &p.Phone, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: participant %d", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select participant: %w", err)
	}
	return &p, nil
}

// CreateJob records a new delivery job in status pending and returns
// its id. Jobs are deliberately not deduplicated on (participant,
// artifact): re-importing the same batch resends on purpose.
func (s *Store) CreateJob(ctx context.Context, participantID int64, certType, artifactPath, subject, body string) (int64, error) {
	if certType == "" || artifactPath == "" {
		return 0, fmt.Errorf("%w: certificate type and artifact path are required", ErrValidation)
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO certificates (participant_id, certificate_type, artifact_path, email_subject, email_body, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, participantID, certType, artifactPath, subject, body, StatusPending, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

const jobColumns = `
	c.id, c.participant_id, p.name, p.email, p.organization,
	c.certificate_type, c.artifact_path, c.email_subject, c.email_body,
	c.status, c.error_message, c.sent_at, c.created_at
`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.ParticipantID, &j.Name, &j.Email, &j.Organization,
		&j.CertificateType, &j.ArtifactPath, &j.EmailSubject, &j.EmailBody,
		&j.Status, &j.ErrorMessage, &j.SentAt, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListPending returns pending jobs oldest-created first. Jobs in any
// other status at call time are excluded.
func (s *Store) ListPending(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM certificates c
		JOIN participants p ON c.participant_id = p.id
		WHERE c.status = $1
		ORDER BY c.created_at, c.id
	`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetDispatchable loads a job that may still be dispatched: pending, or
// failed awaiting a retry. A sent job is terminal and reports not found.
func (s *Store) GetDispatchable(ctx context.Context, jobID int64) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM certificates c
		JOIN participants p ON c.participant_id = p.id
		WHERE c.id = $1 AND c.status IN ($2, $3)
	`, jobID, StatusPending, StatusFailed))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: job %d", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	return j, nil
}

// MarkSent transitions a job to its terminal success state: status
// sent, sent_at stamped, any previous error cleared.
func (s *Store) MarkSent(ctx context.Context, jobID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE certificates
		SET status = $1, sent_at = $2, error_message = NULL
		WHERE id = $3
	`, StatusSent, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return requireRow(res, jobID)
}

// MarkFailed records a failed attempt. The error message overwrites any
// previous one; sent_at stays unset.
func (s *Store) MarkFailed(ctx context.Context, jobID int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE certificates
		SET status = $1, error_message = $2
		WHERE id = $3
	`, StatusFailed, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRow(res, jobID)
}

func requireRow(res sql.Result, jobID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: job %d", ErrJobNotFound, jobID)
	}
	return nil
}

// Statistics returns aggregate counts over both tables.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	var st Statistics
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants`).Scan(&st.Participants)
	if err != nil {
		return nil, fmt.Errorf("count participants: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = $1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = $2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = $3 THEN 1 ELSE 0 END), 0)
		FROM certificates
	`, StatusSent, StatusPending, StatusFailed).Scan(&st.TotalJobs, &st.Sent, &st.Pending, &st.Failed)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return &st, nil
}

// History returns job summaries most-recently-created first, bounded to
// limit.
func (s *Store) History(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, p.name, p.email, c.certificate_type, c.status, c.sent_at, c.error_message, c.created_at
		FROM certificates c
		JOIN participants p ON c.participant_id = p.id
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.JobID, &e.Name, &e.Email, &e.CertificateType, &e.Status, &e.SentAt, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
