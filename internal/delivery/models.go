package delivery

import (
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Participant is an identity record keyed on normalized email. Created
// on first enqueue, never deleted.
type Participant struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Organization *string   `json:"organization,omitempty"`
	Phone        *string   `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Job is one certificate-to-recipient delivery attempt record, joined
// with the owning participant's contact fields for dispatch.
type Job struct {
	ID              int64      `json:"id"`
	ParticipantID   int64      `json:"participant_id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Organization    *string    `json:"organization,omitempty"`
	CertificateType string     `json:"certificate_type"`
	ArtifactPath    string     `json:"artifact_path"`
	EmailSubject    string     `json:"email_subject"`
	EmailBody       string     `json:"email_body"`
	Status          Status     `json:"status"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// HistoryEntry is the job summary shown in status views, newest first.
type HistoryEntry struct {
	JobID           int64      `json:"job_id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	CertificateType string     `json:"certificate_type"`
	Status          Status     `json:"status"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Statistics are aggregate queue counts. Sent+Pending+Failed always
// equals TotalJobs.
type Statistics struct {
	Participants int `json:"participants"`
	TotalJobs    int `json:"total_jobs"`
	Sent         int `json:"sent"`
	Pending      int `json:"pending"`
	Failed       int `json:"failed"`
}

// DispatchReport aggregates one dispatch run over a pending snapshot.
type DispatchReport struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
