package crawler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is the wire form of an Item as stored in the frontier queue.
type Record struct {
	Type       Kind   `json:"type"`
	URL        string `json:"url,omitempty"`
	Parent     string `json:"parent,omitempty"`
	OnClick    string `json:"onClick,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	LogID      string `json:"logId,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
}

// ToRecord converts an item to its wire form.
func ToRecord(item Item) Record {
	switch v := item.(type) {
	case Page:
		return Record{Type: KindPage, URL: v.URL, Attempt: v.Attempt}
	case Link:
		return Record{Type: KindLink, URL: v.URL, Parent: v.Parent, Attempt: v.Attempt}
	case Event:
		return Record{
			Type:       KindEvent,
			URL:        v.URL,
			Parent:     v.Parent,
			OnClick:    v.OnClick,
			Identifier: v.Identifier,
			Attempt:    v.Attempt,
		}
	case FileDownload:
		return Record{Type: KindFile, URL: v.URL, Parent: v.Parent, LogID: v.LogID, Attempt: v.Attempt}
	default:
		return Record{}
	}
}

// Item validates the record and returns the matching variant.
func (r Record) Item() (Item, error) {
	if r.Attempt < 0 {
		return nil, fmt.Errorf("%w: negative attempt %d", ErrMalformedItem, r.Attempt)
	}
	var (
		item Item
		err  error
	)
	switch r.Type {
	case KindPage:
		item, err = NewPage(r.URL)
	case KindLink:
		item, err = NewLink(r.URL, r.Parent)
	case KindFile:
		item, err = NewFileDownload(r.URL, r.Parent, r.LogID)
	case KindEvent:
		item, err = r.event()
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedItem, r.Type)
	}
	if err != nil {
		return nil, err
	}
	return item.WithAttempt(r.Attempt), nil
}

func (r Record) event() (Item, error) {
	if strings.TrimSpace(r.URL) == "" {
		// Records written before event identities were derived carry only the handler.
		return NewEvent(r.OnClick, r.Identifier, r.Parent)
	}
	parent, err := NormalizeURL(r.Parent)
	if err != nil {
		return nil, fmt.Errorf("%w: event parent: %v", ErrMalformedItem, err)
	}
	return Event{
		URL:        strings.TrimSpace(r.URL),
		OnClick:    r.OnClick,
		Identifier: r.Identifier,
		Parent:     parent,
	}, nil
}

// Encode serializes an item for the queue.
func Encode(item Item) ([]byte, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: nil item", ErrMalformedItem)
	}
	data, err := json.Marshal(ToRecord(item))
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return data, nil
}

// Decode parses a queue entry. Any failure wraps ErrMalformedItem.
func Decode(data []byte) (Item, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	return rec.Item()
}
