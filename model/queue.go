package model

import "context"

// QueueRecord is the unit of storage: one named line with its current entries and
// the archive of entries that have been served.
type QueueRecord struct {
	Name           string                   `json:"name"`
	DisplayName    string                   `json:"display_name"`
	PayoutTarget   string                   `json:"payout_target"`
	CreatedAt      int64                    `json:"created_at"`
	Active         bool                     `json:"active"`
	TotalScore     int64                    `json:"total_score"`
	CurrentEntries map[string]Entry         `json:"current_entries"`
	Archive        map[string]ArchivedEntry `json:"archive"`
}

// Entry is a participant waiting in a queue.
type Entry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ContactRef  string `json:"contact_ref,omitempty"`
	AdmittedAt  int64  `json:"admitted_at"`
	Score       int64  `json:"score"`
	Annotation  string `json:"annotation,omitempty"`
}

// ArchivedEntry is an Entry as it was at the moment it was served.
type ArchivedEntry struct {
	Entry
	ServedAt int64 `json:"served_at"`
}

// WaitedMillis is the time the entry spent in the line.
func (a ArchivedEntry) WaitedMillis() int64 {
	if a.ServedAt < a.AdmittedAt {
		return 0
	}
	return a.ServedAt - a.AdmittedAt
}

// QueueView is the observer-facing projection of a record. It is always derived on
// the read side and never stored.
type QueueView struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name"`
	Active      bool            `json:"active"`
	TotalScore  int64           `json:"total_score"`
	Entries     []Entry         `json:"entries"`
	Served      []ArchivedEntry `json:"served"`
}

// Invoice is a payable request issued by a payment collaborator.
type Invoice interface {
	// PaymentRequest is the encoded request shown to the payer.
	PaymentRequest() string
	// PollPaid reports whether the invoice has been settled.
	PollPaid(ctx context.Context) (bool, error)
}

// NewQueueRecord returns an empty, active record.
func NewQueueRecord(name, displayName, payoutTarget string, createdAt int64) *QueueRecord {
	return &QueueRecord{
		Name:           name,
		DisplayName:    displayName,
		PayoutTarget:   payoutTarget,
		CreatedAt:      createdAt,
		Active:         true,
		CurrentEntries: map[string]Entry{},
		Archive:        map[string]ArchivedEntry{},
	}
}

// SumScores recomputes the total of all current entry scores.
func (q *QueueRecord) SumScores() int64 {
	var total int64
	for _, e := range q.CurrentEntries {
		total += e.Score
	}
	return total
}
