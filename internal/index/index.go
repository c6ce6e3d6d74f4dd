// Package index reads the signed package index published by the update
// server.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/galah-group/galah-installer/internal/planner"
	"github.com/galah-group/galah-installer/internal/signature"
	"github.com/galah-group/galah-installer/internal/transfer"
)

// Path is the location of the index on the update server.
const Path = "/packages.json"

// DefaultMaxSize bounds the index download when no limit is configured.
const DefaultMaxSize = 1 << 20

// document is the wire format: {"packages": {"name": ["v1", "v2"]}}.
type document struct {
	Packages map[string][]string `json:"packages"`
}

// Parse decodes and validates an index document. Unknown fields and
// trailing data are rejected.
func Parse(r io.Reader) (planner.Index, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode package index: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode package index: trailing data after document")
	}
	if doc.Packages == nil {
		return nil, errors.New("decode package index: missing \"packages\"")
	}

	idx := planner.Index(doc.Packages)
	if err := planner.ValidateIndex(idx); err != nil {
		return nil, fmt.Errorf("invalid package index: %w", err)
	}
	return idx, nil
}

// Fetch downloads the index and its signature from server, verifies it with
// key and parses it. The downloaded files are removed before Fetch returns.
func Fetch(ctx context.Context, p *transfer.Pipeline, server string, key signature.KeyMaterial, timeout time.Duration, maxSize int64) (planner.Index, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	res, err := p.GetFile(ctx, server, Path, key, timeout, maxSize)
	if err != nil {
		return nil, err
	}
	defer res.Remove()

	data, err := os.ReadFile(res.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read package index: %w", err)
	}
	return Parse(bytes.NewReader(data))
}
