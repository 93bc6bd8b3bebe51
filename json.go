package chm

import (
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/sugawarayuuta/sonnet"
)

// ToMap collect all entries and return a map[K]V
func (m *Map[K, V]) ToMap() map[K]V {
	return m.ToMapWithLimit(-1)
}

// ToMapWithLimit collect up to limit entries into a map[K]V, limit < 0 is no limit
func (m *Map[K, V]) ToMapWithLimit(limit int) map[K]V {
	if limit == 0 {
		return map[K]V{}
	}
	if limit < 0 {
		limit = math.MaxInt
	}
	a := make(map[K]V, min(m.Size(), limit))
	m.Range(func(k K, v V) bool {
		a[k] = v
		limit--
		return limit > 0
	})
	return a
}

// String implements fmt.Stringer. At most 1024 mappings are printed.
func (m *Map[K, V]) String() string {
	const limit = 1024
	return strings.Replace(fmt.Sprint(m.ToMapWithLimit(limit)), "map[", "Map[", 1)
}

var (
	jsonMarshal   func(v any) ([]byte, error)
	jsonUnmarshal func(data []byte, v any) error
)

// SetDefaultJSONMarshal sets the default JSON serialization and deserialization functions.
// If not set, sonnet is used by default.
func SetDefaultJSONMarshal(marshal func(v any) ([]byte, error), unmarshal func(data []byte, v any) error) {
	jsonMarshal, jsonUnmarshal = marshal, unmarshal
}

// MarshalJSON JSON serialization
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	if jsonMarshal != nil {
		return jsonMarshal(m.ToMap())
	}
	return sonnet.Marshal(m.ToMap())
}

// UnmarshalJSON JSON deserialization. Decoded mappings are added to the
// map; null values are rejected.
func (m *Map[K, V]) UnmarshalJSON(data []byte) error {
	var a map[K]V
	if jsonUnmarshal != nil {
		if err := jsonUnmarshal(data, &a); err != nil {
			return err
		}
	} else {
		if err := sonnet.Unmarshal(data, &a); err != nil {
			return err
		}
	}
	m.init()
	for k, v := range a {
		if m.keyNilable && isNil(unsafe.Pointer(&k)) {
			return invalidArgument("UnmarshalJSON", "nil key")
		}
		if m.valNilable && isNil(unsafe.Pointer(&v)) {
			return invalidArgument("UnmarshalJSON", "nil value for key %v", k)
		}
	}
	m.PutAll(a)
	return nil
}
