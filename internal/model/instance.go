package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Chat senders as reported by the marketplace.
const (
	SenderRequester = "requester"
	SenderProvider  = "provider"
)

// Instance is a marketplace work item. Status is the marketplace's integer code.
type Instance struct {
	ID         string `json:"id"`
	Background string `json:"background"`
	Status     int    `json:"status"`
}

// ChatMessage is one entry of an instance's chat transcript.
type ChatMessage struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

// Proposal is a bid this provider placed on an instance.
type Proposal struct {
	ID           string    `json:"id"`
	InstanceID   string    `json:"instance_id"`
	Status       int       `json:"status"`
	CreationDate Timestamp `json:"creation_date"`
}

// InstanceToSolve is the per-cycle view of an instance's interaction state.
// Empty strings mean the field is absent.
type InstanceToSolve struct {
	Instance              Instance
	RepoURL               string
	PRURL                 string
	PRComments            string
	MessagesWithRequester string
	StartedSolving        bool
}

// NeedsAttention reports an instance that was already engaged and has no
// unseen PR or chat input since.
func (v InstanceToSolve) NeedsAttention() bool {
	return v.StartedSolving && v.PRComments == "" && v.MessagesWithRequester == ""
}

// Timestamp accepts the ISO-8601 variants the marketplace emits, with or
// without a zone offset.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
