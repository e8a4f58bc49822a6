package protoreg

import (
	"hash/fnv"
	"slices"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const (
	maxFieldNumber = 31767
	reservedFirst  = 19000
	reservedLast   = 19999
)

// numberFields gives every field a tag derived from its name, so the wire
// contract does not change when fields are added or reordered. Names are
// placed in sorted order; a taken tag moves to the next free one, skipping
// the range protobuf reserves for itself.
func numberFields(fields []*protobuilder.FieldBuilder) {
	byName := slices.Clone(fields)
	slices.SortFunc(byName, func(a, b *protobuilder.FieldBuilder) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		}
		return 0
	})
	taken := make(map[int]bool, len(fields))
	for _, fb := range byName {
		n := probe(homeNumber(string(fb.Name())), taken)
		taken[n] = true
		fb.SetNumber(protoreflect.FieldNumber(n))
	}
}

func homeNumber(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32()%maxFieldNumber) + 1
}

func probe(home int, taken map[int]bool) int {
	n := home
	for {
		if n >= reservedFirst && n <= reservedLast {
			n = reservedLast + 1
		}
		if !taken[n] {
			return n
		}
		if n++; n > maxFieldNumber {
			n = 1
		}
		if n == home {
			panic("protoreg: no field numbers left")
		}
	}
}
