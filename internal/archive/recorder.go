// Package archive keeps a record of every applied role change.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"rolectl/internal/model"
	"rolectl/internal/settings"
)

// ErrRecordNotFound is returned by Get for an unknown key.
var ErrRecordNotFound = errors.New("record not found")

const (
	plainExt  = ".json"
	sealedExt = ".json.age"
)

// checkKey rejects keys that could escape the archive.
func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return fmt.Errorf("invalid record key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("invalid record key %q", key)
		}
	}
	return nil
}

// Recorder writes change records to an archive, sealing them when an
// encryptor is set.
type Recorder struct {
	archive   settings.Archive
	encryptor settings.Encryptor // nil writes plain JSON
	clock     settings.Clock
	ids       settings.IDGenerator
}

// NewRecorder creates a Recorder. Pass a nil encryptor to store records
// unencrypted.
func NewRecorder(a settings.Archive, enc settings.Encryptor, clock settings.Clock, ids settings.IDGenerator) *Recorder {
	if clock == nil {
		clock = settings.RealClock{}
	}
	if ids == nil {
		ids = settings.UUIDGenerator{}
	}
	return &Recorder{archive: a, encryptor: enc, clock: clock, ids: ids}
}

// Archive returns the underlying archive.
func (r *Recorder) Archive() settings.Archive {
	return r.archive
}

// Record fills in the record's id and timestamp, stores it and returns
// its key.
func (r *Recorder) Record(rec *model.ChangeRecord) (string, error) {
	if rec.ServerID == "" {
		return "", fmt.Errorf("change record has no server id")
	}
	if rec.ID == "" {
		rec.ID = r.ids.New()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = r.clock.Now().UTC()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding change record: %w", err)
	}

	ext := plainExt
	if r.encryptor != nil {
		var sealed bytes.Buffer
		if err := r.encryptor.Encrypt(bytes.NewReader(data), &sealed); err != nil {
			return "", fmt.Errorf("encrypting change record: %w", err)
		}
		data = sealed.Bytes()
		ext = sealedExt
	}

	key := rec.ServerID + "/" + rec.RecordedAt.Format("20060102T150405.000000000Z") + "-" + rec.ID + ext
	if err := r.archive.Put(key, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", fmt.Errorf("storing change record: %w", err)
	}
	return key, nil
}

// List returns the keys of the records stored for serverID, oldest first.
// An empty serverID lists every record.
func (r *Recorder) List(serverID string) ([]string, error) {
	prefix := ""
	if serverID != "" {
		prefix = serverID + "/"
	}
	return r.archive.List(prefix)
}

// IsSealed reports whether the record under key is encrypted.
func IsSealed(key string) bool {
	return strings.HasSuffix(key, sealedExt)
}

// Load reads the record under key. dec is required for sealed records and
// ignored otherwise.
func (r *Recorder) Load(key string, dec settings.DecryptionContext) (*model.ChangeRecord, error) {
	var buf bytes.Buffer
	if err := r.archive.Get(key, &buf); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	if IsSealed(key) {
		if dec == nil {
			return nil, fmt.Errorf("record %s is encrypted: unlock the archive key first", key)
		}
		var plain bytes.Buffer
		if err := dec.Decrypt(bytes.NewReader(data), &plain); err != nil {
			return nil, fmt.Errorf("decrypting change record: %w", err)
		}
		data = plain.Bytes()
	}

	var rec model.ChangeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding change record: %w", err)
	}
	return &rec, nil
}
