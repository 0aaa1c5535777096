package models

import (
	"encoding/json"
	"fmt"
)

// FieldKind is the closed set of question types a form field can have.
// It marshals to the wire names used by the form builder ("text",
// "multiselect", ...); unknown names fail to unmarshal rather than being
// carried around as opaque strings.
type FieldKind int

const (
	KindShortText FieldKind = iota
	KindLongText
	KindEmail
	KindPhone
	KindNumber
	KindURL
	KindDate
	KindSelect
	KindMultiSelect
	KindRating
	KindFile
)

var kindNames = map[FieldKind]string{
	KindShortText:   "text",
	KindLongText:    "textarea",
	KindEmail:       "email",
	KindPhone:       "phone",
	KindNumber:      "number",
	KindURL:         "url",
	KindDate:        "date",
	KindSelect:      "select",
	KindMultiSelect: "multiselect",
	KindRating:      "rating",
	KindFile:        "file",
}

var kindByName = func() map[string]FieldKind {
	m := make(map[string]FieldKind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

func (k FieldKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k FieldKind) MarshalJSON() ([]byte, error) {
	n, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown field kind %d", int(k))
	}
	return json.Marshal(n)
}

func (k *FieldKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, ok := kindByName[s]
	if !ok {
		return fmt.Errorf("unknown field kind %q", s)
	}
	*k = v
	return nil
}

// Option is one selectable choice for select/multiselect fields.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// FieldMeta carries the kind-specific payload: option lists for choice
// kinds, numeric bounds for number, length bound for text kinds.
type FieldMeta struct {
	Options []Option `json:"options,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	MaxLen  int      `json:"max_len,omitempty"`
}

// Field is one question in a form's ordered sequence. OrderIdx defines the
// sequence position and is unique within a form; the field at index 0 is
// the entry point.
type Field struct {
	ID       string    `json:"id"`
	FormKey  string    `json:"form_key"`
	Label    string    `json:"label"`
	Kind     FieldKind `json:"type"`
	Required bool      `json:"is_required"`
	OrderIdx int       `json:"order_idx"`
	Meta     FieldMeta `json:"meta,omitempty"`
}
