// Package statestore persists conversation state by embedding it in the
// bot's own comments. The issue thread is the only storage medium: each
// outbound comment carries a machine-readable marker, and the next
// invocation recovers state by scanning the thread for the most recent
// one. There is no database and no lock; conflicting invocations
// serialize through comment ordering (last write wins).
package statestore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog/log"

	"github.com/livetriage/internal/conversation"
)

const (
	// Marker delimiters render as an HTML comment, invisible in GitHub's
	// markdown view but preserved verbatim in the comment body.
	markerPrefix = "<!-- livetriage:state "
	markerSuffix = " -->"

	// compressedTag prefixes payloads that were deflated and base64'd
	// because the raw JSON exceeded the size threshold.
	compressedTag = "compressed:"

	// DefaultCompressThreshold is the serialized size in bytes above
	// which payloads are compressed before embedding.
	DefaultCompressThreshold = 2000
)

// Store embeds and recovers conversation state in comment text.
type Store struct {
	compressThreshold int
}

// New creates a store. A threshold <= 0 selects the default.
func New(compressThreshold int) *Store {
	if compressThreshold <= 0 {
		compressThreshold = DefaultCompressThreshold
	}
	return &Store{compressThreshold: compressThreshold}
}

// Embed serializes state and appends its marker block after the visible
// text. The visible text is returned unchanged apart from the appended
// marker.
func (s *Store) Embed(visibleText string, state *conversation.State) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal conversation state: %w", err)
	}

	payload := string(raw)
	if len(raw) > s.compressThreshold {
		compressed, err := deflate(raw)
		if err != nil {
			return "", fmt.Errorf("compress conversation state: %w", err)
		}
		payload = compressedTag + base64.StdEncoding.EncodeToString(compressed)
		log.Debug().
			Int("raw_bytes", len(raw)).
			Int("embedded_bytes", len(payload)).
			Msg("state payload compressed")
	}

	var b strings.Builder
	b.WriteString(visibleText)
	if visibleText != "" && !strings.HasSuffix(visibleText, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(markerPrefix)
	b.WriteString(payload)
	b.WriteString(markerSuffix)
	return b.String(), nil
}

// Extract recovers state from text containing zero or more marker
// blocks. When several markers are present (upstream sometimes hands us
// concatenated thread history) the last one wins: it is the most
// recently appended snapshot. Any decode failure returns nil, which
// callers must treat exactly like "no prior state".
func (s *Store) Extract(text string) *conversation.State {
	payload, ok := lastMarkerPayload(text)
	if !ok {
		return nil
	}

	if strings.HasPrefix(payload, compressedTag) {
		encoded := strings.TrimPrefix(payload, compressedTag)
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			log.Warn().Err(err).Msg("state marker base64 decode failed, treating as fresh thread")
			return nil
		}
		raw, err := inflate(compressed)
		if err != nil {
			log.Warn().Err(err).Msg("state marker decompression failed, treating as fresh thread")
			return nil
		}
		payload = string(raw)
	}

	var state conversation.State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		log.Warn().Err(err).Msg("state marker JSON invalid, treating as fresh thread")
		return nil
	}
	return &state
}

// lastMarkerPayload returns the payload of the final complete marker
// pair in text.
func lastMarkerPayload(text string) (string, bool) {
	start := strings.LastIndex(text, markerPrefix)
	for start >= 0 {
		rest := text[start+len(markerPrefix):]
		end := strings.Index(rest, markerSuffix)
		if end >= 0 {
			return rest[:end], true
		}
		// Unterminated marker; try an earlier occurrence.
		start = strings.LastIndex(text[:start], markerPrefix)
	}
	return "", false
}

func deflate(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	return io.ReadAll(r)
}
