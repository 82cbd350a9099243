package kv

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aldevik/skrift/internal/apperr"
)

func TestPutGetRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f := NewFile(path)

	if err := f.Put("greeting", map[string]string{"hello": "world"}); err != nil {
		t.Fatal(err)
	}
	raw, err := f.Get("greeting")
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["hello"] != "world" {
		t.Errorf("got %v", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "state.json"))
	if _, err := f.Get("absent"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	if err := NewFile(path).Put("counter", 42); err != nil {
		t.Fatal(err)
	}

	raw, err := NewFile(path).Get("counter")
	if err != nil {
		t.Fatal(err)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Errorf("n = %d, want 42", n)
	}
}

func TestPutOverwrites(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "state.json"))
	if err := f.Put("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := f.Put("k", "v2"); err != nil {
		t.Fatal(err)
	}
	raw, err := f.Get("k")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"v2"` {
		t.Errorf("raw = %s, want \"v2\"", raw)
	}
}
