// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the three record kinds.
const (
	RunPrefix  = "run-"
	NodePrefix = "nd-"
	EdgePrefix = "ed-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// Run returns a new run ID.
func Run() (string, error) { return GenerateWithPrefix(RunPrefix) }

// Node returns a new node ID.
func Node() (string, error) { return GenerateWithPrefix(NodePrefix) }

// Edge returns a new edge ID.
func Edge() (string, error) { return GenerateWithPrefix(EdgePrefix) }

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
