package sink

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geosweep/internal/model"
)

// FileSink writes indented JSON documents under
// <dir>/<area>/<stamp>/. The list goes to <list_name>.json and each detail to
// <detail_prefix>_<id>.json.
type FileSink struct {
	dir          string
	listName     string
	detailPrefix string
}

// NewFileSink creates a FileSink rooted at dir.
func NewFileSink(dir, listName, detailPrefix string) *FileSink {
	if listName == "" {
		listName = "product_list"
	}
	if detailPrefix == "" {
		detailPrefix = "product"
	}
	return &FileSink{dir: dir, listName: listName, detailPrefix: detailPrefix}
}

// Folder returns the directory holding the output of key.
func (f *FileSink) Folder(key Key) string {
	return filepath.Join(f.dir, SafeName(key.Area), SafeName(key.Stamp))
}

// ListPath returns the file the list of key is written to.
func (f *FileSink) ListPath(key Key) string {
	return filepath.Join(f.Folder(key), f.listName+".json")
}

// DetailPath returns the file the detail id of key is written to.
func (f *FileSink) DetailPath(key Key, id string) string {
	return filepath.Join(f.Folder(key), f.detailPrefix+"_"+SafeName(id)+".json")
}

// SaveList implements Sink. A nil slice is written as an empty array.
func (f *FileSink) SaveList(_ context.Context, key Key, records []model.Record) error {
	if records == nil {
		records = []model.Record{}
	}
	return writeJSON(f.ListPath(key), records)
}

// SaveDetail implements Sink. The payload is written as returned, indented.
func (f *FileSink) SaveDetail(_ context.Context, key Key, d model.Detail) error {
	if !json.Valid(d.Payload) {
		return eris.Errorf("sink: detail %s is not valid json", d.ID)
	}
	return writeJSON(f.DetailPath(key, d.ID), d.Payload)
}

// Close implements Sink.
func (f *FileSink) Close() error { return nil }

// writeJSON encodes v with two-space indentation and non-ASCII text kept as
// is, then moves it into place so readers never see a partial file.
func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrapf(err, "sink: encode %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "sink: create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "sink: temp file in %s", dir)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "sink: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "sink: close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "sink: rename to %s", path)
	}
	return nil
}

// SafeName maps s to a single path element. Letters, digits, '-', '_' and
// '.' are kept; anything else becomes '_'. When a character had to be
// replaced, a short hash of s is appended so distinct ids never share a file.
func SafeName(s string) string {
	out := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			return r
		}
		return '_'
	}, s)
	if out == s && strings.Trim(out, ".") != "" {
		return out
	}
	if strings.Trim(out, ".") == "" {
		out = strings.Repeat("_", max(len(out), 1))
	}
	sum := sha256.Sum256([]byte(s))
	return out + "-" + hex.EncodeToString(sum[:4])
}
