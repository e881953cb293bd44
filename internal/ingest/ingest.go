// Package ingest registers assets produced by the video pipeline. The
// pipeline uploads a video to content-addressed storage and writes a
// metadata.json next to it; Register turns that file into a listing.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SkipNoContentHash is the Result.Reason when metadata has no content hash.
const SkipNoContentHash = "no content hash in metadata"

// Metadata is the pipeline's metadata.json. Older pipeline versions write
// the content hash as ipfsHash, newer ones as cid.
type Metadata struct {
	IPFSHash    string `json:"ipfsHash,omitempty"`
	CID         string `json:"cid,omitempty"`
	Locator     string `json:"locator,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
}

// ContentHash returns the first non-empty content reference.
func (m *Metadata) ContentHash() string {
	for _, s := range []string{m.IPFSHash, m.CID, m.Locator} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Load reads and decodes a metadata.json file.
func Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return &m, nil
}

// Lister creates listings on behalf of an authenticated owner.
// *client.Client satisfies this interface.
type Lister interface {
	List(ctx context.Context, title, description, locator string, price int64) (int64, error)
}

// Request carries the operator's overrides for one registration.
type Request struct {
	VideoPath   string // used for the default title
	Title       string // overrides metadata title
	Description string // overrides metadata description
	Price       int64
}

// Result reports what Register did.
type Result struct {
	Registered  bool   `json:"registered"`
	ListingID   int64  `json:"listing_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Locator     string `json:"locator,omitempty"`
}

// DefaultTitle is the video file's base name without its extension.
func DefaultTitle(videoPath string) string {
	base := filepath.Base(videoPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DefaultDescription is used when neither the operator nor the metadata
// supplies a description.
func DefaultDescription(now time.Time) string {
	return "Video processed by Decentralized Video Pipeline on " + now.Format("2006-01-02")
}

// Resolve picks the title and description for a registration. Operator
// values win over metadata, which wins over the defaults.
func Resolve(m *Metadata, req Request, now time.Time) (title, description string) {
	title = firstNonEmpty(req.Title, m.Title)
	if title == "" && req.VideoPath != "" {
		title = DefaultTitle(req.VideoPath)
	}
	description = firstNonEmpty(req.Description, m.Description)
	if description == "" {
		description = DefaultDescription(now)
	}
	return title, description
}

// Register lists the asset described by m. Metadata with no content hash
// is skipped with Result.Reason set and a nil error.
func Register(ctx context.Context, lister Lister, m *Metadata, req Request, now time.Time) (*Result, error) {
	title, description := Resolve(m, req, now)
	res := &Result{Title: title, Description: description}

	locator := m.ContentHash()
	if locator == "" {
		res.Reason = SkipNoContentHash
		return res, nil
	}
	if title == "" {
		return nil, errors.New("no title: pass one or provide the video path")
	}
	if req.Price < 0 {
		return nil, fmt.Errorf("price must not be negative, got %d", req.Price)
	}

	id, err := lister.List(ctx, title, description, locator, req.Price)
	if err != nil {
		return nil, fmt.Errorf("list asset: %w", err)
	}
	res.Registered = true
	res.ListingID = id
	res.Locator = locator
	return res, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
