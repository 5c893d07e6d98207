package domain

import (
	"fmt"
	"time"
)

// AttributeKind distinguishes the NGSI-LD value categories an attribute
// can carry.
type AttributeKind string

const (
	KindProperty     AttributeKind = "Property"
	KindGeoProperty  AttributeKind = "GeoProperty"
	KindRelationship AttributeKind = "Relationship"
)

// Value is a typed attribute value.
type Value struct {
	Kind       AttributeKind `json:"kind"`
	Value      interface{}   `json:"value"`
	ObservedAt *time.Time    `json:"observed_at,omitempty"`
}

// Attribute is a named value. Entities keep attributes as an ordered slice
// so downstream serialization is deterministic.
type Attribute struct {
	Name string `json:"name"`
	Value
}

// Entity is the canonical semantic record produced by the pipeline.
// ID and Type are immutable after creation; attributes carry patch
// semantics and Version is a monotonically increasing logical clock used
// to reconcile copies across stores.
type Entity struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Attributes   []Attribute `json:"attributes"`
	Version      int64       `json:"version"`
	LastModified time.Time   `json:"last_modified"`
}

// NewEntity creates an entity at version 1.
func NewEntity(id, entityType string) *Entity {
	return &Entity{
		ID:           id,
		Type:         entityType,
		Version:      1,
		LastModified: time.Now(),
	}
}

// Attribute returns the named attribute value, if present.
func (e *Entity) Attribute(name string) (Value, bool) {
	for _, attr := range e.Attributes {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return Value{}, false
}

// SetAttribute adds or replaces a single attribute, preserving the
// position of an existing attribute with the same name.
func (e *Entity) SetAttribute(name string, v Value) {
	for i, attr := range e.Attributes {
		if attr.Name == name {
			e.Attributes[i].Value = v
			return
		}
	}
	e.Attributes = append(e.Attributes, Attribute{Name: name, Value: v})
}

// Touch advances the entity's logical clock.
func (e *Entity) Touch() {
	e.Version++
	e.LastModified = time.Now()
}

// Merge applies other onto e with patch semantics: attributes present in
// other replace or extend e's attributes, everything else is preserved.
// The higher version wins the clock; merging never rewinds it. Merging
// entities with different identities is an error.
func (e *Entity) Merge(other *Entity) error {
	if other == nil {
		return nil
	}
	if e.ID != other.ID || e.Type != other.Type {
		return &ValidationError{
			Field:  "id",
			Reason: fmt.Sprintf("cannot merge %s/%s into %s/%s", other.Type, other.ID, e.Type, e.ID),
		}
	}
	for _, attr := range other.Attributes {
		e.SetAttribute(attr.Name, attr.Value)
	}
	if other.Version > e.Version {
		e.Version = other.Version
	}
	if other.LastModified.After(e.LastModified) {
		e.LastModified = other.LastModified
	}
	return nil
}

// Clone returns a deep copy, so callers can hand entities across goroutine
// boundaries without sharing attribute slices.
func (e *Entity) Clone() *Entity {
	cp := *e
	cp.Attributes = make([]Attribute, len(e.Attributes))
	copy(cp.Attributes, e.Attributes)
	return &cp
}

// CloneBatch deep-copies a batch of entities.
func CloneBatch(entities []*Entity) []*Entity {
	out := make([]*Entity, len(entities))
	for i, e := range entities {
		out[i] = e.Clone()
	}
	return out
}
