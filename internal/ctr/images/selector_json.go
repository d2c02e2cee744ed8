package images

import (
	"bytes"
	"encoding/json"
)

// selectorJSON is Selector's flat wire shape: an image-ref is exactly
// one of {"id": "..."}, {"name": "...", "version": "..."}, or
// {"tag": "..."} — spec.md §4.4's config schema calls each array entry
// an "image-ref" with "exactly one selector per image-ref".
type selectorJSON struct {
	ID      *string `json:"id,omitempty"`
	Name    *string `json:"name,omitempty"`
	Version *string `json:"version,omitempty"`
	Tag     *string `json:"tag,omitempty"`
}

// MarshalJSON renders s in its flat wire shape.
func (s Selector) MarshalJSON() ([]byte, error) {
	var w selectorJSON
	switch {
	case s.ID != nil:
		id := string(*s.ID)
		w.ID = &id
	case s.NameVersion != nil:
		w.Name = &s.NameVersion.Name
		w.Version = &s.NameVersion.Version
	case s.Tag != nil:
		w.Tag = s.Tag
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses s's flat wire shape. It does not itself call
// Validate — callers validate after parsing the whole config, so a
// malformed selector reports as a config validation error with
// context, not a raw JSON error.
func (s *Selector) UnmarshalJSON(data []byte) error {
	var w selectorJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	*s = Selector{}
	if w.ID != nil {
		id := ImageID(*w.ID)
		s.ID = &id
	}
	if w.Name != nil || w.Version != nil {
		nv := NameVersion{}
		if w.Name != nil {
			nv.Name = *w.Name
		}
		if w.Version != nil {
			nv.Version = *w.Version
		}
		s.NameVersion = &nv
	}
	if w.Tag != nil {
		s.Tag = w.Tag
	}
	return nil
}
