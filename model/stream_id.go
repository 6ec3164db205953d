package model

import "strings"

// StreamID identifies a logical buffered stream by namespace and name.
// The zero namespace is valid and renders without a prefix.
type StreamID struct {
	Namespace string
	Name      string
}

func NewStreamID(namespace, name string) StreamID {
	return StreamID{Namespace: namespace, Name: name}
}

// ParseStreamID is the inverse of StreamID.String. Everything before the first
// '.' is the namespace.
func ParseStreamID(s string) StreamID {
	idx := strings.IndexByte(s, '.')
	if idx == -1 {
		return StreamID{Name: s}
	}
	return StreamID{Namespace: s[:idx], Name: s[idx+1:]}
}

func (s StreamID) IsZero() bool {
	return s.Namespace == "" && s.Name == ""
}

func (s StreamID) String() string {
	if s.Namespace == "" {
		return s.Name
	}
	return s.Namespace + "." + s.Name
}

// Key is a binary-safe key used by ordered indexes and storage engines.
// Namespaces sort before names.
func (s StreamID) Key() string {
	return s.Namespace + "\x00" + s.Name
}

// StreamIDFromKey reverses Key.
func StreamIDFromKey(key string) StreamID {
	idx := strings.IndexByte(key, 0)
	if idx == -1 {
		return StreamID{Name: key}
	}
	return StreamID{Namespace: key[:idx], Name: key[idx+1:]}
}

func (s StreamID) Less(other StreamID) bool {
	if s.Namespace != other.Namespace {
		return s.Namespace < other.Namespace
	}
	return s.Name < other.Name
}
