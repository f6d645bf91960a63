// Package eventstore defines the records buffered by the ingest core and the
// persistence contract used to write them durably.
package eventstore

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxErrorLength caps the stored dead-letter error description, in characters.
const MaxErrorLength = 1000

// Record is a single accepted event awaiting a durable write.
type Record struct {
	TraceID    string
	ReceivedAt time.Time
	Method     string
	Path       string
	Payload    *string
}

// DeadLetter is a record that could not be written to its primary table.
type DeadLetter struct {
	Record
	Error string
}

// NewDeadLetter wraps record with a truncated failure description.
func NewDeadLetter(record Record, reason string) DeadLetter {
	return DeadLetter{Record: record, Error: TruncateError(reason)}
}

// WithFailure returns a copy of the dead letter carrying an additional failure reason.
func (d DeadLetter) WithFailure(reason string) DeadLetter {
	combined := reason
	if d.Error != "" {
		combined = d.Error + "; " + reason
	}
	d.Error = TruncateError(combined)
	return d
}

// Text makes s storable in a PostgreSQL TEXT column: invalid UTF-8 sequences
// become U+FFFD and NUL bytes are removed.
func Text(s string) string {
	if utf8.ValidString(s) && strings.IndexByte(s, 0) < 0 {
		return s
	}
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}

// TruncateError makes msg storable and limits it to MaxErrorLength characters.
func TruncateError(msg string) string {
	msg = Text(msg)
	if utf8.RuneCountInString(msg) <= MaxErrorLength {
		return msg
	}
	return string([]rune(msg)[:MaxErrorLength])
}

// Store persists batches of records. Implementations must write each batch with
// a single multi-row statement.
type Store interface {
	InsertRecords(ctx context.Context, records []Record) error
	InsertDeadLetters(ctx context.Context, letters []DeadLetter) error
}
