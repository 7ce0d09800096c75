package coverage

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// AssetSet is an insertion-ordered set of asset ids. It is immutable: With and
// Without return new sets and never modify the receiver, so a set can be shared
// between intervals without aliasing a running accumulator. The zero value is empty.
type AssetSet struct {
	ids []int
}

// NewAssetSet builds a set from ids, dropping repeats.
func NewAssetSet(ids ...int) AssetSet {
	var s AssetSet
	for _, id := range ids {
		s = s.With(id)
	}
	return s
}

// Has reports whether id is in the set.
func (s AssetSet) Has(id int) bool {
	return slices.Contains(s.ids, id)
}

func (s AssetSet) Len() int {
	return len(s.ids)
}

func (s AssetSet) Empty() bool {
	return len(s.ids) == 0
}

// With returns a set that also contains id.
func (s AssetSet) With(id int) AssetSet {
	if s.Has(id) {
		return s
	}
	ids := make([]int, len(s.ids), len(s.ids)+1)
	copy(ids, s.ids)
	return AssetSet{ids: append(ids, id)}
}

// Without returns a set that does not contain id.
func (s AssetSet) Without(id int) AssetSet {
	i := slices.Index(s.ids, id)
	if i < 0 {
		return s
	}
	ids := make([]int, 0, len(s.ids)-1)
	ids = append(ids, s.ids[:i]...)
	return AssetSet{ids: append(ids, s.ids[i+1:]...)}
}

// IDs returns a copy of the ids in insertion order.
func (s AssetSet) IDs() []int {
	return slices.Clone(s.ids)
}

// Sorted returns a copy of the ids in ascending order.
func (s AssetSet) Sorted() []int {
	ids := slices.Clone(s.ids)
	slices.Sort(ids)
	return ids
}

// Equal reports whether both sets hold the same ids, ignoring order.
func (s AssetSet) Equal(o AssetSet) bool {
	if len(s.ids) != len(o.ids) {
		return false
	}
	for _, id := range s.ids {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// String joins the ids with ';', the separator used in reports and storage.
func (s AssetSet) String() string {
	parts := make([]string, len(s.ids))
	for i, id := range s.ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ";")
}

// ParseAssetSet parses the String form. Blank input is the empty set.
func ParseAssetSet(s string) (AssetSet, error) {
	var set AssetSet
	if strings.TrimSpace(s) == "" {
		return set, nil
	}
	for _, part := range strings.Split(s, ";") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return AssetSet{}, fmt.Errorf("invalid asset id %q: %w", part, err)
		}
		if id <= 0 {
			return AssetSet{}, fmt.Errorf("invalid asset id %d", id)
		}
		set = set.With(id)
	}
	return set, nil
}

// MarshalJSON encodes the set as an array of ids. Empty sets encode as [].
func (s AssetSet) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

func (s *AssetSet) UnmarshalJSON(data []byte) error {
	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewAssetSet(ids...)
	return nil
}
