package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// Metadata keys of the embedded form.
const (
	DataKey     = "DPIAData"
	ChecksumKey = "DPIAChecksum"
)

// Envelope is the embedded form of a snapshot: the canonical snapshot JSON
// and its SHA-256 checksum, as stored in document metadata.
type Envelope struct {
	Data     string `json:"DPIAData"`
	Checksum string `json:"DPIAChecksum,omitempty"`
}

// Checksum returns the lower-case hex SHA-256 of data.
func Checksum(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Seal canonicalises s (RFC 8785) and checksums the result.
func Seal(s Snapshot) (Envelope, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return Envelope{}, fmt.Errorf("canonicalize snapshot: %w", err)
	}
	data := string(canonical)
	return Envelope{Data: data, Checksum: Checksum(data)}, nil
}

// Open verifies and decodes an envelope. A missing checksum is accepted; a
// mismatching one is a hard failure.
func Open(env Envelope) (Snapshot, error) {
	if strings.TrimSpace(env.Data) == "" {
		return Snapshot{}, NewValidationError(CodeNotEmbedded, nil)
	}
	if env.Checksum != "" && !strings.EqualFold(Checksum(env.Data), env.Checksum) {
		return Snapshot{}, NewValidationError(CodeTampered, nil)
	}
	return Decode([]byte(env.Data))
}

// ReadEnvelope decodes the embedded form from a metadata document.
func ReadEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return Envelope{}, NewValidationError(CodeMalformed, err)
		}
		return Envelope{}, NewValidationError(CodeNotEmbedded, err)
	}
	return env, nil
}

// Filename returns the export file name DPIA_<YYYY-MM-DD_HH-MM-SS>.<ext> for
// the UTC time t.
func Filename(ext string, t time.Time) string {
	return "DPIA_" + t.UTC().Format("2006-01-02_15-04-05") + "." + strings.TrimPrefix(ext, ".")
}
