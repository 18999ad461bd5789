package models

import (
	"fmt"
	"time"
)

// Resource status values stored on ResourceRecord
const (
	ResourceStatusOK     = "ok"
	ResourceStatusSevere = "severe"
)

// CollectionRecord is one entry in the collection registry
type CollectionRecord struct {
	Key        string   `json:"key" badgerhold:"key"`
	Active     bool     `json:"active" badgerhold:"index"`
	Name       string   `json:"name"`
	Format     string   `json:"format"`
	Dir        string   `json:"dir"`
	Recipients []string `json:"recipients,omitempty"`

	LastCheck time.Time `json:"last_check"`
	LastEmail time.Time `json:"last_email"`
	LastRunID string    `json:"last_run_id"`

	// Counts from the most recent completed run
	Resources int `json:"resources"`
	Warnings  int `json:"warnings"`
}

// ResourceRecord is the persisted history of one resource, keyed by collection + id
type ResourceRecord struct {
	Key           string `json:"key" badgerhold:"key"`
	CollectionKey string `json:"collection_key" badgerhold:"index"`
	ID            string `json:"id"`
	FileName      string `json:"file_name"`
	PrimaryURL    string `json:"primary_url"`
	Status        string `json:"status"`

	FirstAccession time.Time `json:"first_accession"`
	LastCheck      time.Time `json:"last_check"`

	MetaChecksum    uint64 `json:"meta_checksum"`
	PrimaryChecksum uint64 `json:"primary_checksum"`

	// Cached textual rendering of the primary page
	PrimaryContent string `json:"primary_content,omitempty"`
	ContentType    string `json:"content_type,omitempty"`

	HasFile bool `json:"has_file"`
}

// ResourceKey builds the store key for a resource record
func ResourceKey(collectionKey, id string) string {
	return collectionKey + "|" + id
}

// VitalityRecord is one row of the per-URL check time series
type VitalityRecord struct {
	Key           string    `json:"key" badgerhold:"key"`
	CollectionKey string    `json:"collection_key"`
	ResourceID    string    `json:"resource_id"`
	URL           string    `json:"url"`
	SeriesKey     string    `json:"series_key" badgerhold:"index"`
	CheckDate     time.Time `json:"check_date"`

	// MsgType is empty when the check succeeded, otherwise the ErrorKind name
	MsgType  string    `json:"msg_type,omitempty"`
	Vitality int       `json:"vitality"`
	DateUp   time.Time `json:"date_up"`
	DateDown time.Time `json:"date_down"`
}

// SeriesKey identifies the time series of one URL of one resource
func SeriesKey(collectionKey, id, url string) string {
	return collectionKey + "|" + id + "|" + url
}

// Failed reports whether the recorded check failed
func (v VitalityRecord) Failed() bool {
	return v.MsgType != ""
}

// MessageRecord is one warning emitted during a run, kept for report composition
type MessageRecord struct {
	Key           string    `json:"key" badgerhold:"key"`
	CollectionKey string    `json:"collection_key" badgerhold:"index"`
	RunID         string    `json:"run_id" badgerhold:"index"`
	CheckDate     time.Time `json:"check_date"`
	Seq           int       `json:"seq"`

	Kind       string `json:"kind"`
	Severe     bool   `json:"severe"`
	ResourceID string `json:"resource_id"`
	FileName   string `json:"file_name"`
	XPath      string `json:"xpath"`
	Label      string `json:"label"`
	URL        string `json:"url"`
	Message    string `json:"message"`
	Aux        string `json:"aux"`
}

// NewMessageRecord flattens a warning for the message log
func NewMessageRecord(collectionKey, runID string, checkDate time.Time, seq int, w Warning) MessageRecord {
	return MessageRecord{
		Key:           fmt.Sprintf("%s|%s|%08d", collectionKey, runID, seq),
		CollectionKey: collectionKey,
		RunID:         runID,
		CheckDate:     checkDate,
		Seq:           seq,
		Kind:          w.Kind().String(),
		Severe:        w.Severe(),
		ResourceID:    w.ResourceID(),
		FileName:      w.FileName(),
		XPath:         w.XPath(),
		Label:         w.Label(),
		URL:           w.URL(),
		Message:       w.Message(),
		Aux:           w.Aux(),
	}
}

// Warning rebuilds the immutable warning from a stored message
func (m MessageRecord) Warning() (Warning, error) {
	kind, err := ParseErrorKind(m.Kind)
	if err != nil {
		return Warning{}, err
	}
	return NewWarning(kind, m.Message).
		ForResource(m.ResourceID, m.FileName).
		AtURL(m.XPath, m.Label, m.URL).
		WithAux(m.Aux), nil
}
