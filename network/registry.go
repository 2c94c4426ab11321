package network

import (
	"fmt"
	"reflect"
	"sort"
)

// PacketInfo describes one registered readable packet type.
type PacketInfo struct {
	ID   uint16
	Type reflect.Type

	newFn func() Readable
}

// Factory registers an id whose instances are built by New rather than
// reflected from a prototype. Codecs wrapping foreign message types, whose
// id is not a property of the Go type, register this way.
type Factory struct {
	ID  uint16
	New func() Readable
}

// Registry maps packet ids to readable prototypes. It is immutable once
// built and safe for concurrent use without locking.
type Registry struct {
	info map[uint16]*PacketInfo
}

// NewRegistry validates and registers prototypes. Every prototype must be a
// non-nil pointer implementing Readable, or a Factory; ids must be unique. Any violation
// aborts construction.
func NewRegistry(prototypes ...any) (*Registry, error) {
	r := &Registry{info: make(map[uint16]*PacketInfo, len(prototypes))}
	for _, proto := range prototypes {
		if err := r.register(proto); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry for package-level setup; it panics on error.
func MustRegistry(prototypes ...any) *Registry {
	r, err := NewRegistry(prototypes...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) register(proto any) error {
	if f, ok := proto.(Factory); ok {
		return r.registerFactory(f)
	}

	msgType := reflect.TypeOf(proto)
	if msgType == nil || msgType.Kind() != reflect.Ptr || reflect.ValueOf(proto).IsNil() {
		return fmt.Errorf("register %v: %w", msgType, ErrInvalidPrototype)
	}
	p, ok := proto.(Packet)
	if !ok {
		return fmt.Errorf("register %v: %w", msgType, ErrMissingPacketID)
	}
	if _, ok := proto.(Readable); !ok {
		return fmt.Errorf("register %v: %w", msgType, ErrInvalidPrototype)
	}

	id := p.PacketID()
	if prev, ok := r.info[id]; ok {
		return fmt.Errorf("register %v: id %d already used by %v: %w", msgType, id, prev.Type, ErrDuplicatePacketID)
	}
	r.info[id] = &PacketInfo{ID: id, Type: msgType}
	return nil
}

func (r *Registry) registerFactory(f Factory) error {
	if f.New == nil {
		return fmt.Errorf("register factory %d: %w", f.ID, ErrInvalidPrototype)
	}
	sample := f.New()
	if sample == nil {
		return fmt.Errorf("register factory %d: %w", f.ID, ErrInvalidPrototype)
	}
	if sample.PacketID() != f.ID {
		return fmt.Errorf("register factory %d: instance reports id %d: %w", f.ID, sample.PacketID(), ErrInvalidPrototype)
	}
	msgType := reflect.TypeOf(sample)
	if prev, ok := r.info[f.ID]; ok {
		return fmt.Errorf("register %v: id %d already used by %v: %w", msgType, f.ID, prev.Type, ErrDuplicatePacketID)
	}
	r.info[f.ID] = &PacketInfo{ID: f.ID, Type: msgType, newFn: f.New}
	return nil
}

// FindByID returns a fresh instance of the packet registered under id.
func (r *Registry) FindByID(id uint16) (Readable, error) {
	i, ok := r.info[id]
	if !ok {
		return nil, fmt.Errorf("packet id %d: %w", id, ErrUnknownPacket)
	}
	if i.newFn != nil {
		return i.newFn(), nil
	}
	return reflect.New(i.Type.Elem()).Interface().(Readable), nil
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id uint16) bool {
	_, ok := r.info[id]
	return ok
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return len(r.info)
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []uint16 {
	ids := make([]uint16, 0, len(r.info))
	for id := range r.info {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Range calls f for every registered type in id order.
func (r *Registry) Range(f func(id uint16, t reflect.Type)) {
	for _, id := range r.IDs() {
		f(id, r.info[id].Type)
	}
}
