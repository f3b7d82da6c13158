package subnet

import (
	"fmt"
	"strings"
)

// Entry is one address of a reserved subnet.
type Entry struct {
	Address string
	MAC     string
}

// Table lists the addresses of a subnet in g5k-subnets order.
type Table []Entry

// ParseTable parses `g5k-subnets -im` output: one "<ip> <mac>" pair per line.
func ParseTable(s string) (Table, error) {
	var t Table
	for i, line := range strings.Split(s, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed subnet table line %d: %q", i+1, line)
		}
		t = append(t, Entry{Address: fields[0], MAC: fields[1]})
	}
	return t, nil
}

// Pick returns the entry assigned to ordinal. Ordinals past the end of the
// table wrap around, so two machines may share an entry.
func (t Table) Pick(ordinal int) (Entry, error) {
	if len(t) == 0 {
		return Entry{}, fmt.Errorf("subnet table is empty")
	}
	if ordinal < 0 {
		return Entry{}, fmt.Errorf("ordinal must be >= 0, got %d", ordinal)
	}
	return t[ordinal%len(t)], nil
}
