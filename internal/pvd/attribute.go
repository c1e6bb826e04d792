package pvd

// Attribute is one key/value fact about a PvD.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// attributeSet is an insertion-ordered key/value collection.
// keys holds the order, values the current value for every key in keys.
type attributeSet struct {
	keys   []string
	values map[string]string
}

func newAttributeSet() attributeSet {
	return attributeSet{values: make(map[string]string)}
}

// set replaces the value of an existing key in place or appends a new entry.
func (s *attributeSet) set(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
	return nil
}

func (s *attributeSet) get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// remove deletes key and reports whether it was present.
func (s *attributeSet) remove(key string) bool {
	if _, ok := s.values[key]; !ok {
		return false
	}
	delete(s.values, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

func (s *attributeSet) len() int {
	return len(s.keys)
}

// snapshot returns the entries in insertion order.
func (s *attributeSet) snapshot() []Attribute {
	out := make([]Attribute, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, Attribute{Key: k, Value: s.values[k]})
	}
	return out
}

func (s *attributeSet) clone() attributeSet {
	c := attributeSet{
		keys:   make([]string, len(s.keys)),
		values: make(map[string]string, len(s.values)),
	}
	copy(c.keys, s.keys)
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}

func (s *attributeSet) clear() {
	s.keys = nil
	clear(s.values)
}
