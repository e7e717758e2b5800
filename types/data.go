package types

import (
	"encoding/json"
	"sort"

	"github.com/juju/errors"
	"github.com/spf13/cast"
	"github.com/warriorguo/opflow/utils"
)

// Data is a key/value bag of field values.
type Data map[string]any

func (d *Data) Get(key string) (any, bool) {
	v, exists := (*d)[key]
	return v, exists
}

func (d *Data) Has(key string) bool {
	_, exists := (*d)[key]
	return exists
}

func (d *Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	return cast.ToString(v), exists
}

func (d *Data) GetInt(key string) (int, bool) {
	v, exists := d.Get(key)
	return cast.ToInt(v), exists
}

func (d *Data) GetInt64(key string) (int64, bool) {
	v, exists := d.Get(key)
	return cast.ToInt64(v), exists
}

func (d *Data) GetBool(key string) (bool, bool) {
	v, exists := d.Get(key)
	return cast.ToBool(v), exists
}

func (d *Data) GetFloat64(key string) (float64, bool) {
	v, exists := d.Get(key)
	return cast.ToFloat64(v), exists
}

func (d *Data) GetSlice(key string) ([]any, bool) {
	v, exists := d.Get(key)
	return cast.ToSlice(v), exists
}

func (d *Data) GetStruct(key string, s any) error {
	v, exists := d.Get(key)
	if !exists {
		return errors.NotFoundf("key %s", key)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Annotatef(err, "marshal %s", key)
	}
	return json.Unmarshal(b, s)
}

func (d *Data) Set(key string, value any) {
	if *d == nil {
		*d = Data{}
	}
	(*d)[key] = value
}

func (d *Data) Delete(key string) {
	delete(*d, key)
}

// Keys returns the keys in lexical order.
func (d *Data) Keys() []string {
	keys := make([]string, 0, len(*d))
	for key := range *d {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (d Data) Clone() Data {
	return utils.CloneMap(d)
}
