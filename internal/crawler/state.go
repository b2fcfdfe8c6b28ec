package crawler

import (
	"encoding/json"
	"fmt"
	"slices"
)

// State is a point-in-time copy of one crawl key's frontier. Queue holds the
// raw queue entries in order so a restore reproduces them byte for byte.
type State struct {
	Queue      []string `json:"queue"`
	Processing []string `json:"processing"`
	Visited    []string `json:"visited"`
	Failed     []string `json:"failed,omitempty"`
}

// Empty reports whether the state holds no entries at all.
func (s State) Empty() bool {
	return len(s.Queue) == 0 && len(s.Processing) == 0 && len(s.Visited) == 0 && len(s.Failed) == 0
}

// EncodeState renders the state as indented JSON with sorted sets.
func EncodeState(s State) ([]byte, error) {
	out := State{
		Queue:      nonNil(s.Queue),
		Processing: sortedCopy(s.Processing),
		Visited:    sortedCopy(s.Visited),
		Failed:     sortedCopy(s.Failed),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// DecodeState parses a snapshot document.
func DecodeState(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return s, nil
}

func sortedCopy(in []string) []string {
	out := nonNil(in)
	out = append([]string(nil), out...)
	slices.Sort(out)
	if out == nil {
		return []string{}
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
