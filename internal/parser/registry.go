package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/csv-chatbot/backend/internal/models"
)

// Registry holds all available parsers and provides auto-detection.
type Registry struct {
	parsers []Parser
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry returns a registry with the delimited parsers. Sniffing
// parsers come first so a semicolon export named .csv is not read as a
// single column.
func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			NewTSVParser(),
			NewSemicolonParser(),
			NewCSVParser(),
		},
	}
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register adds a new parser to the registry.
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// FindParser detects the correct parser for a file.
func (r *Registry) FindParser(filename string, head []byte) (Parser, error) {
	for _, p := range r.parsers {
		if p.CanParse(filename, head) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no suitable parser found for file: %s", filename)
}

// GetParserByName returns a parser by its name.
func (r *Registry) GetParserByName(name string) (Parser, error) {
	name = strings.ToLower(name)
	for _, p := range r.parsers {
		if strings.ToLower(p.Name()) == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("parser not found: %s", name)
}

// ParseTable detects the parser for filename and parses data with it.
// Every failure is returned as a *ParseError.
func (r *Registry) ParseTable(filename string, data []byte) (*models.Table, error) {
	p, err := r.FindParser(filename, Head(data))
	if err != nil {
		return nil, &ParseError{File: filename, Reason: "unsupported file type", Err: err}
	}
	return p.Parse(filename, bytes.NewReader(data))
}
