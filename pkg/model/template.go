package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Template is a resolved content artifact. Its hash always equals the SHA-256
// of its content; use NewTemplate or SetContent, never assign the hash.
type Template struct {
	Name     string
	Source   string
	Category string
	Version  string
	Path     string
	Enforce  bool

	content []byte
	sha256  HashValue
}

// NewTemplate creates a template and computes its content hash.
func NewTemplate(name, source string, content []byte) *Template {
	t := &Template{Name: name, Source: source}
	t.SetContent(content)
	return t
}

// Content returns the template bytes.
func (t *Template) Content() []byte {
	return t.content
}

// SHA256 returns the hex digest of the content.
func (t *Template) SHA256() HashValue {
	return t.sha256
}

// SetContent replaces the content and recomputes the hash.
func (t *Template) SetContent(content []byte) {
	t.content = append([]byte(nil), content...)
	t.sha256 = HashContent(t.content)
}

// HashContent returns the hex SHA-256 digest of content.
func HashContent(content []byte) HashValue {
	sum := sha256.Sum256(content)
	return HashValue(hex.EncodeToString(sum[:]))
}

type templateJSON struct {
	Name     string    `json:"name"`
	Source   string    `json:"source"`
	Category string    `json:"category,omitempty"`
	Version  string    `json:"version,omitempty"`
	Path     string    `json:"path,omitempty"`
	Enforce  bool      `json:"enforce"`
	SHA256   HashValue `json:"sha256"`
	Content  string    `json:"content"`
}

// MarshalJSON implements json.Marshaler.
func (t *Template) MarshalJSON() ([]byte, error) {
	return json.Marshal(templateJSON{
		Name:     t.Name,
		Source:   t.Source,
		Category: t.Category,
		Version:  t.Version,
		Path:     t.Path,
		Enforce:  t.Enforce,
		SHA256:   t.sha256,
		Content:  string(t.content),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The stored hash is ignored and
// recomputed from the content.
func (t *Template) UnmarshalJSON(data []byte) error {
	var raw templateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Name = raw.Name
	t.Source = raw.Source
	t.Category = raw.Category
	t.Version = raw.Version
	t.Path = raw.Path
	t.Enforce = raw.Enforce
	t.SetContent([]byte(raw.Content))
	return nil
}
