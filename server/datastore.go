package server

import (
	"fmt"
	"sync"

	"github.com/plgd-dev/go-coreconf/sid"
)

type entry struct {
	id    sid.Identifier
	value interface{}
}

// Datastore holds data node instances addressed by instance identifier.
// Lookups match the identifier exactly: a SID does not resolve to the
// subtree of its descendants, and [SID, key] does not match a bare SID.
// It is safe for concurrent use.
type Datastore struct {
	mutex  sync.RWMutex
	values map[string]entry
}

func NewDatastore() *Datastore {
	return &Datastore{
		values: make(map[string]entry),
	}
}

// identifiers with equal SID and keys encode to equal CBOR.
func datastoreKey(id sid.Identifier) (string, error) {
	b, err := id.MarshalCBOR()
	if err != nil {
		return "", fmt.Errorf("cannot encode identifier %v: %w", id, err)
	}
	return string(b), nil
}

func (d *Datastore) Set(id sid.Identifier, value interface{}) error {
	key, err := datastoreKey(id)
	if err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.values[key] = entry{id: id, value: value}
	return nil
}

func (d *Datastore) Get(id sid.Identifier) (interface{}, bool) {
	key, err := datastoreKey(id)
	if err != nil {
		return nil, false
	}
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	e, ok := d.values[key]
	return e.value, ok
}

func (d *Datastore) Delete(id sid.Identifier) {
	key, err := datastoreKey(id)
	if err != nil {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.values, key)
}

func (d *Datastore) Len() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.values)
}
