package answer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Value is an answer value: null, a text or a list of texts.
type Value struct {
	text   string
	list   []string
	isText bool
	isList bool
}

// Null is the absent value.
func Null() Value { return Value{} }

// Text returns a text value.
func Text(s string) Value { return Value{text: s, isText: true} }

// List returns a list value.
func List(items ...string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{list: slices.Clone(items), isList: true}
}

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return !v.isText && !v.isList }

// IsList reports whether v holds a list.
func (v Value) IsList() bool { return v.isList }

// IsText reports whether v holds a text.
func (v Value) IsText() bool { return v.isText }

// Text returns the text and whether v holds one.
func (v Value) Text() (string, bool) { return v.text, v.isText }

// List returns a copy of the list and whether v holds one.
func (v Value) List() ([]string, bool) {
	if !v.isList {
		return nil, false
	}
	return slices.Clone(v.list), true
}

// Empty reports whether v is null or the empty text. Empty lists are not
// empty: an explicit "nothing selected" is an answer.
func (v Value) Empty() bool {
	return v.IsNull() || (v.isText && v.text == "")
}

// Native returns nil, a string or a []string.
func (v Value) Native() any {
	switch {
	case v.isText:
		return v.text
	case v.isList:
		return slices.Clone(v.list)
	default:
		return nil
	}
}

// Equal reports whether two values are identical.
func (v Value) Equal(o Value) bool {
	return v.isText == o.isText && v.isList == o.isList && v.text == o.text && slices.Equal(v.list, o.list)
}

// String renders the value for display; lists are joined with ", ".
func (v Value) String() string {
	switch {
	case v.isText:
		return v.text
	case v.isList:
		return strings.Join(v.list, ", ")
	default:
		return ""
	}
}

// MarshalJSON encodes null, a string or an array of strings.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON accepts null, a string or an array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*v = Null()
		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var items []string
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("answer list: %w", err)
		}
		*v = List(items...)
		return nil
	default:
		return fmt.Errorf("answer value must be null, string or array of strings, got %s", trimmed)
	}
}

// FromNative converts nil, string, []string or []any of strings into a Value.
func FromNative(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case string:
		return Text(t), nil
	case []string:
		return List(t...), nil
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("answer list item %v is not a string", item)
			}
			items = append(items, s)
		}
		return List(items...), nil
	case bool:
		// Booleans are stored as their literal text.
		if t {
			return Text("true"), nil
		}
		return Text("false"), nil
	default:
		return Value{}, fmt.Errorf("unsupported answer value %T", x)
	}
}
