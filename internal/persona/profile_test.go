package persona

import (
	"encoding/json"
	"testing"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

func TestOpenWritesTemplateOnFirstOpen(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	snap := p.Snapshot()
	if got := gjsonGet(t, snap, "user.name"); got != "" {
		t.Fatalf("expected blank user.name, got %q", got)
	}
}

func TestApplyPatchFreshness(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	patch := models.JSONPatch{
		{Op: "replace", Path: "/user/name", Value: json.RawMessage(`"Anna"`)},
	}
	if err := p.ApplyPatch(patch); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}

	snap := p.Snapshot()
	if got := gjsonGet(t, snap, "user.name"); got != "Anna" {
		t.Fatalf("expected patched name Anna, got %q", got)
	}

	// A second Profile opened from disk must see the persisted change.
	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := gjsonGet(t, reopened.Snapshot(), "user.name"); got != "Anna" {
		t.Fatalf("expected persisted name Anna after reopen, got %q", got)
	}
}

func TestApplyPatchDiscardsInvalidPatch(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	before := p.Snapshot()

	// bot.name must stay a string per schema; patching it to a number
	// should fail validation and leave the cache untouched.
	patch := models.JSONPatch{
		{Op: "replace", Path: "/bot/name", Value: json.RawMessage(`42`)},
	}
	if err := p.ApplyPatch(patch); err == nil {
		t.Fatalf("expected schema validation error for wrong type")
	}

	badOp := models.JSONPatch{
		{Op: "frobnicate", Path: "/bot/name", Value: json.RawMessage(`"x"`)},
	}
	if err := p.ApplyPatch(badOp); err == nil {
		t.Fatalf("expected error for unsupported op")
	}

	after := p.Snapshot()
	if string(before) != string(after) {
		t.Fatalf("rejected patches must not mutate the cache")
	}
}

func gjsonGet(t *testing.T, data json.RawMessage, path string) string {
	t.Helper()
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("snapshot is not an object")
	}
	parts := splitPath(path)
	cur := any(m)
	for _, part := range parts {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = asMap[part]
	}
	s, _ := cur.(string)
	return s
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	out = append(out, path[start:])
	return out
}
