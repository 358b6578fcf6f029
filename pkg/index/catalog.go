// ABOUTME: Persistent catalog of index definitions and index entry maintenance
// ABOUTME: Definitions live under their own table prefix as JSON rows keyed by name

package index

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/nainya/recordindex/pkg/storage"
)

// PREFIX_INDEX_DEF is the table prefix of the catalog: (name) -> definition JSON
const PREFIX_INDEX_DEF = uint32(300)

// ErrIndexNotFound is returned for unknown index names
var ErrIndexNotFound = errors.New("index not found")

// Catalog stores index definitions
type Catalog struct {
	kv *storage.KV
}

// NewCatalog creates a catalog over kv
func NewCatalog(kv *storage.KV) *Catalog {
	return &Catalog{kv: kv}
}

func catalogKey(name string) []byte {
	return storage.EncodeKey(PREFIX_INDEX_DEF, []storage.Value{storage.NewBytesValue([]byte(name))})
}

// Put validates and stores def, replacing any definition with the same name.
// Two indexes may not share a table prefix.
func (c *Catalog) Put(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.Prefix == PREFIX_INDEX_DEF {
		return fmt.Errorf("%w: prefix %d is reserved", ErrInvalidDefinition, def.Prefix)
	}

	existing, err := c.List()
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.Name != def.Name && other.Prefix == def.Prefix {
			return fmt.Errorf("%w: prefix %d is used by %s", ErrInvalidDefinition, def.Prefix, other.Name)
		}
	}

	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode index %s: %w", def.Name, err)
	}
	return c.kv.Set(catalogKey(def.Name), data)
}

// Get loads a definition by name
func (c *Catalog) Get(name string) (*Definition, error) {
	data, ok := c.kv.Get(catalogKey(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", name, err)
	}
	return &def, nil
}

// List returns every definition in name order
func (c *Catalog) List() ([]*Definition, error) {
	prefix := storage.EncodeKey(PREFIX_INDEX_DEF, nil)
	rows, err := c.kv.NewScanner(storage.Range{Start: prefix, Stop: storage.PrefixEnd(prefix)})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Definition
	for {
		row, ok, err := rows.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		var def Definition
		if err := json.Unmarshal(row.Value, &def); err != nil {
			return nil, fmt.Errorf("decode index row %x: %w", row.Key, err)
		}
		out = append(out, &def)
	}
}

// Delete removes a definition. Its entries are left in place.
func (c *Catalog) Delete(name string) error {
	deleted, err := c.kv.Del(catalogKey(name))
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return nil
}

// Writer stores index entries
type Writer interface {
	Set(key, val []byte) error
	Del(key []byte) (bool, error)
}

// PutEntry adds the entry (values) -> target to def. Entries carry no value.
func PutEntry(w Writer, def *Definition, target []byte, values ...any) error {
	key, err := entryKey(def, target, values)
	if err != nil {
		return err
	}
	return w.Set(key, nil)
}

// DeleteEntry removes the entry (values) -> target from def
func DeleteEntry(w Writer, def *Definition, target []byte, values ...any) (bool, error) {
	key, err := entryKey(def, target, values)
	if err != nil {
		return false, err
	}
	return w.Del(key)
}

func entryKey(def *Definition, target []byte, values []any) ([]byte, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	indexKey, err := def.EncodeKey(values...)
	if err != nil {
		return nil, err
	}
	return def.RowKey(indexKey, target)
}
