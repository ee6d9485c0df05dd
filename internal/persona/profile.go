// Package persona loads, patches, and persists the structured Profile
// document: bot persona and user model, embedded verbatim in every prompt.
// The in-memory cache is authoritative; disk writes are synchronous
// write-temp-then-rename so a crash mid-write never corrupts the live file.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const fileName = "seele.json"

// Profile guards the single authoritative Profile document for this
// deployment. A single writer mutex protects the in-memory cache.
type Profile struct {
	mu     sync.RWMutex
	path   string
	cache  []byte
	schema *jsonschema.Schema
}

// Open loads the Profile at dir/seele.json, writing the blank template if
// the file does not yet exist.
func Open(dir string) (*Profile, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "persona.open", err)
	}

	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "persona.open", mkErr)
		}
		data = []byte(templateJSON)
		if writeErr := writeAtomic(dir, path, data); writeErr != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "persona.open", writeErr)
		}
	} else if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "persona.open", err)
	}

	if !gjson.ValidBytes(data) {
		return nil, apperr.New(apperr.KindConflict, "persona.open", "profile file is not valid JSON")
	}

	return &Profile{path: path, cache: data, schema: schema}, nil
}

// Snapshot returns a deep copy of the cached Profile document for the
// prompt assembler. Callers never read the disk directly.
func (p *Profile) Snapshot() json.RawMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]byte, len(p.cache))
	copy(out, p.cache)
	return out
}

// ApplyPatch validates a JSON-Patch document against a copy of the current
// Profile and, on success, updates the cache and persists atomically. A
// patch that fails validation is discarded and a descriptive error returned;
// callers are expected to log a warning and continue rather than fail the
// whole summarisation run.
func (p *Profile) ApplyPatch(patch models.JSONPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make([]byte, len(p.cache))
	copy(next, p.cache)

	for _, op := range patch {
		var err error
		next, err = applyOp(next, op)
		if err != nil {
			return apperr.Wrap(apperr.KindBadArgument, "persona.apply_patch", err)
		}
	}

	if !gjson.ValidBytes(next) {
		return apperr.New(apperr.KindConflict, "persona.apply_patch", "patched document is not valid JSON")
	}
	if err := p.schema.Validate(mustDecode(next)); err != nil {
		return apperr.Wrap(apperr.KindConflict, "persona.apply_patch", err)
	}

	if err := writeAtomic(filepath.Dir(p.path), p.path, next); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "persona.apply_patch", err)
	}
	p.cache = next
	return nil
}

func mustDecode(data []byte) any {
	var v any
	_ = json.Unmarshal(data, &v)
	return v
}

// applyOp applies a single RFC 6902 JSON-Patch operation to doc, translating
// the JSON Pointer path into the dotted path tidwall/gjson and tidwall/sjson
// expect.
func applyOp(doc []byte, op models.JSONPatchOp) ([]byte, error) {
	path, err := pointerToPath(op.Path)
	if err != nil {
		return nil, err
	}

	switch op.Op {
	case "remove":
		return sjson.DeleteBytes(doc, path)
	case "add", "replace":
		if len(op.Value) == 0 {
			return nil, fmt.Errorf("op %q at %q missing value", op.Op, op.Path)
		}
		return sjson.SetRawBytes(doc, path, op.Value)
	default:
		return nil, fmt.Errorf("unsupported json-patch op %q", op.Op)
	}
}

// pointerToPath converts an RFC 6901 JSON Pointer ("/user/name") into the
// dotted path gjson/sjson use ("user.name"), unescaping "~1" ("/") and "~0"
// ("~") and mapping the RFC 6902 "-" append token to sjson's append marker.
func pointerToPath(pointer string) (string, error) {
	if pointer == "" || pointer == "/" {
		return "", fmt.Errorf("empty json-pointer path")
	}
	if !strings.HasPrefix(pointer, "/") {
		return "", fmt.Errorf("json-pointer path must start with '/': %q", pointer)
	}

	segments := strings.Split(pointer[1:], "/")
	for i, seg := range segments {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		if seg == "-" {
			seg = "-1"
		}
		segments[i] = escapePathSegment(seg)
	}
	return strings.Join(segments, "."), nil
}

// escapePathSegment backslash-escapes the gjson/sjson path metacharacters
// (".", "*", "?", "|", "#", "@") that can appear inside a JSON object key, so
// a literal key never gets misread as path syntax.
func escapePathSegment(seg string) string {
	const special = ".*?|#@\\"
	var b strings.Builder
	for _, r := range seg {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by an atomic rename, with a best-effort directory fsync where the
// platform supports it.
func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".seele-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync() // best effort; not all platforms support fsync on directories
		dirHandle.Close()
	}
	return nil
}
