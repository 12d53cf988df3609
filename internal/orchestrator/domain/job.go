package domain

import (
	"slices"
	"time"
)

// WorkRequest is the caller-supplied job description. It is never mutated
// after acceptance; the background task works on its own copy.
// Empty strings are valid values. Absent lists the wire names of fields the
// caller did not send at all; TimezoneOffset is nil when omitted.
type WorkRequest struct {
	AuthKey        string
	StoreID        string
	TableID        string
	StoreAPIKey    string
	EngineID       string
	UserID         string
	UserSecret     string
	TimezoneOffset *int
	Instruction    string
	ChatID         string
	SessionID      string
	Category       string

	Absent []string
}

// MissingFields returns the names of required fields the caller did not send
func (r WorkRequest) MissingFields() []string {
	missing := append([]string(nil), r.Absent...)
	if r.TimezoneOffset == nil && !slices.Contains(missing, "timezone") {
		missing = append(missing, "timezone")
	}
	return missing
}

// Assignment is the synchronous answer to an accepted request
type Assignment struct {
	RecordID string
	Status   string
}

// Job is what the detached task owns: a request copy plus its record id
type Job struct {
	RecordID   string
	Request    WorkRequest
	AcceptedAt time.Time
}

// TerminalUpdate is the single write that closes a job
type TerminalUpdate struct {
	Status  string
	Result  string
	EndedAt time.Time
}

// JobEvent is published on job lifecycle transitions
type JobEvent struct {
	EventID    string    `json:"event_id"`
	RecordID   string    `json:"record_id"`
	Status     string    `json:"status"`
	EngineID   string    `json:"engine_id"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Columns names the record store columns each job attribute is written to
type Columns struct {
	UserID         string `yaml:"user_id"`
	UserSecret     string `yaml:"user_secret"`
	Category       string `yaml:"category"`
	Instruction    string `yaml:"instruction"`
	TimezoneOffset string `yaml:"timezone_offset"`
	Status         string `yaml:"status"`
	ChatID         string `yaml:"chat_id"`
	SessionID      string `yaml:"session_id"`
	StartDate      string `yaml:"start_date"`
	EndDate        string `yaml:"end_date"`
	Result         string `yaml:"result"`
}

// DefaultColumns matches the layout of the production jobs table
func DefaultColumns() Columns {
	return Columns{
		UserID:         "user_id",
		UserSecret:     "user_pwd",
		Category:       "category",
		Instruction:    "order",
		TimezoneOffset: "timezone",
		Status:         "status",
		ChatID:         "chat_id",
		SessionID:      "session_id",
		StartDate:      "start_date",
		EndDate:        "end_date",
		Result:         "result",
	}
}

// WithDefaults fills any empty column name from DefaultColumns
func (c Columns) WithDefaults() Columns {
	d := DefaultColumns()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&c.UserID, d.UserID)
	fill(&c.UserSecret, d.UserSecret)
	fill(&c.Category, d.Category)
	fill(&c.Instruction, d.Instruction)
	fill(&c.TimezoneOffset, d.TimezoneOffset)
	fill(&c.Status, d.Status)
	fill(&c.ChatID, d.ChatID)
	fill(&c.SessionID, d.SessionID)
	fill(&c.StartDate, d.StartDate)
	fill(&c.EndDate, d.EndDate)
	fill(&c.Result, d.Result)
	return c
}
