// Package uuid generates identifiers for lock owners and stored files.
package uuid

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string. v7 IDs sort by creation time, which keeps
// content rows in insertion order.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// OwnerToken identifies one worker process as a restore-lock holder:
// "<hostname>-<pid>-<uuid>". The UUID alone guarantees uniqueness; the rest
// makes a stuck lock traceable to a machine.
func (g Generator) OwnerToken() (string, error) {
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), id), nil
}
