package models

// Field is a single key/value pair of a change payload.
// Value is a scalar, a nested Fields value, or a slice.
type Field struct {
	Key   string
	Value any
}

// Fields is an ordered payload. Order is preserved on the audit channel,
// which keeps encoded entries stable across runs.
type Fields []Field

// Get returns the value stored under key
func (f Fields) Get(key string) (any, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}

// Pick returns the subset of fields with the given keys, in payload order
func (f Fields) Pick(keys ...string) Fields {
	out := Fields{}
	for _, field := range f {
		for _, k := range keys {
			if field.Key == k {
				out = append(out, field)
				break
			}
		}
	}
	return out
}

// Without returns a copy of the payload minus the given keys
func (f Fields) Without(keys ...string) Fields {
	out := make(Fields, 0, len(f))
outer:
	for _, field := range f {
		for _, k := range keys {
			if field.Key == k {
				continue outer
			}
		}
		out = append(out, field)
	}
	return out
}
