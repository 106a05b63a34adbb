package application

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed labels.yaml
var defaultLabelsYAML []byte

// LabelClass is one rhythm class an annotator may choose.
type LabelClass struct {
	Value       string `yaml:"value" json:"value"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Vocabulary is the ordered, closed set of labels accepted on submission.
type Vocabulary struct {
	classes []LabelClass
	index   map[string]struct{}
}

type vocabularyFile struct {
	Classes []LabelClass `yaml:"classes"`
}

// DefaultVocabulary returns the built-in ECG rhythm classes.
func DefaultVocabulary() *Vocabulary {
	vocab, err := ParseVocabulary(strings.NewReader(string(defaultLabelsYAML)))
	if err != nil {
		panic(fmt.Sprintf("application: embedded label vocabulary: %v", err))
	}
	return vocab
}

// LoadVocabulary reads a vocabulary file. An empty path yields the default.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultVocabulary(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open label vocabulary: %w", err)
	}
	defer f.Close()
	return ParseVocabulary(f)
}

// ParseVocabulary decodes a YAML document with a top level "classes" list.
func ParseVocabulary(r io.Reader) (*Vocabulary, error) {
	var file vocabularyFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode label vocabulary: %w", err)
	}
	if len(file.Classes) == 0 {
		return nil, fmt.Errorf("label vocabulary is empty")
	}

	vocab := &Vocabulary{
		classes: make([]LabelClass, 0, len(file.Classes)),
		index:   make(map[string]struct{}, len(file.Classes)),
	}
	for i, class := range file.Classes {
		class.Value = strings.TrimSpace(class.Value)
		if class.Value == "" {
			return nil, fmt.Errorf("label vocabulary entry %d has no value", i)
		}
		if _, dup := vocab.index[class.Value]; dup {
			return nil, fmt.Errorf("label vocabulary repeats %q", class.Value)
		}
		if class.Name == "" {
			class.Name = class.Value
		}
		vocab.index[class.Value] = struct{}{}
		vocab.classes = append(vocab.classes, class)
	}
	return vocab, nil
}

// Classes returns the labels in file order.
func (v *Vocabulary) Classes() []LabelClass {
	if v == nil {
		return nil
	}
	out := make([]LabelClass, len(v.classes))
	copy(out, v.classes)
	return out
}

// Contains reports whether label is part of the vocabulary.
func (v *Vocabulary) Contains(label string) bool {
	if v == nil {
		return false
	}
	_, ok := v.index[label]
	return ok
}
