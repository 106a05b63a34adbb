package application

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultVocabulary(t *testing.T) {
	t.Parallel()

	vocab := DefaultVocabulary()
	classes := vocab.Classes()
	if len(classes) != 13 {
		t.Fatalf("expected 13 rhythm classes, got %d", len(classes))
	}
	if classes[0].Value != "SR" || classes[len(classes)-1].Value != "ABSTAIN" {
		t.Fatalf("unexpected class order: first %q last %q", classes[0].Value, classes[len(classes)-1].Value)
	}
	for _, label := range []string{"AFIB", "PSVT", "TRIGU"} {
		if !vocab.Contains(label) {
			t.Fatalf("expected %s in vocabulary", label)
		}
	}
	if vocab.Contains("afib") {
		t.Fatalf("labels are case sensitive")
	}

	classes[0].Value = "mutated"
	if vocab.Classes()[0].Value != "SR" {
		t.Fatalf("Classes must return a copy")
	}
}

func TestParseVocabularyRejectsBadDocuments(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":     "classes: []\n",
		"no value":  "classes:\n  - name: missing\n",
		"duplicate": "classes:\n  - value: SR\n  - value: SR\n",
		"unknown":   "classes:\n  - value: SR\n    colour: red\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseVocabulary(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected %s document to be rejected", name)
			}
		})
	}
}

func TestLoadVocabularyFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.yaml")
	if err := os.WriteFile(path, []byte("classes:\n  - value: NOISE\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	vocab, err := LoadVocabulary(path)
	if err != nil {
		t.Fatalf("LoadVocabulary returned error: %v", err)
	}
	if !vocab.Contains("NOISE") || vocab.Contains("SR") {
		t.Fatalf("expected file vocabulary to replace the default")
	}
	if got := vocab.Classes()[0].Name; got != "NOISE" {
		t.Fatalf("expected name to default to value, got %q", got)
	}

	if _, err := LoadVocabulary(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file to fail")
	}
	if vocab, err := LoadVocabulary(" "); err != nil || !vocab.Contains("SR") {
		t.Fatalf("expected blank path to select the default vocabulary")
	}
}
