package store

import (
	"encoding/json"
	"fmt"
)

// Entity is implemented by every model type cached in the store. The
// store key is the collection primary key; StoreIndexes returns the
// secondary index entries to maintain for the record (empty values are
// skipped).
type Entity interface {
	StoreKey() string
	StoreIndexes() map[string]string
}

// PutEntity marshals an entity and writes it under its store key.
func PutEntity(tx *Tx, collection string, e Entity) error {
	key := e.StoreKey()
	if key == "" {
		return fmt.Errorf("entity for %s has empty store key", collection)
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s entity: %w", collection, err)
	}
	return tx.Put(collection, key, body, e.StoreIndexes())
}

// GetEntity retrieves and unmarshals one entity by key. Returns
// ErrNotFound if the record does not exist.
func GetEntity[T any](tx *Tx, collection, key string) (*T, error) {
	body, err := tx.Get(collection, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s/%s: %w", collection, key, err)
	}
	return &v, nil
}

// AllEntities retrieves every entity of a collection ordered by key.
func AllEntities[T any](tx *Tx, collection string) ([]*T, error) {
	recs, err := tx.GetAll(collection)
	if err != nil {
		return nil, err
	}
	return unmarshalRecords[T](recs, collection)
}

// EntitiesByIndex retrieves the entities whose named index entry equals
// value, ordered by key.
func EntitiesByIndex[T any](tx *Tx, collection, name, value string) ([]*T, error) {
	recs, err := tx.GetByIndex(collection, name, value)
	if err != nil {
		return nil, err
	}
	return unmarshalRecords[T](recs, collection)
}

func unmarshalRecords[T any](recs []Record, collection string) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Body, &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s/%s: %w", collection, rec.Key, err)
		}
		out = append(out, &v)
	}
	return out, nil
}
