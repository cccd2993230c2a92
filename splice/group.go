// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package splice

import (
	"fmt"
)

// Group describes one sparsity unit: an inclusive coordinate
// range [First, Last] and an optional weight used to normalize
// sacrifice magnitudes across groups of different size.
// A zero Weight means unset and defaults to 1.
type Group struct {
	First, Last int
	Weight      float64
}

// groupTable translates between the flat coordinate view and the
// group view. All other components operate purely in group-index
// space. A nil descriptor yields p singleton groups of weight 1,
// so the ungrouped case needs no special code path anywhere else.
type groupTable struct {
	p      int
	groups []Group
}

// newGroupTable validates the descriptor against the coordinate
// dimension p. The groups must partition [0, p) in ascending order:
// overlaps, gaps, out-of-range coordinates and negative or NaN
// weights are configuration errors.
func newGroupTable(p int, groups []Group) (t groupTable, err error) {
	t = groupTable{p: p}
	if groups == nil {
		return
	}
	next := 0
	for k, g := range groups {
		switch {
		case g.First != next && g.First < next:
			err = fmt.Errorf("%w: group %d overlaps coordinate %d", ErrConfig, k, g.First)
		case g.First != next:
			err = fmt.Errorf("%w: group %d leaves coordinate %d uncovered", ErrConfig, k, next)
		case g.Last < g.First:
			err = fmt.Errorf("%w: group %d has empty range", ErrConfig, k)
		case g.Last >= p:
			err = fmt.Errorf("%w: group %d exceeds dimension %d", ErrConfig, k, p)
		case g.Weight < zero || g.Weight != g.Weight:
			err = fmt.Errorf("%w: group %d has nonpositive weight", ErrConfig, k)
		}
		if err != nil {
			return
		}
		next = g.Last + 1
	}
	if next != p {
		err = fmt.Errorf("%w: coordinates %d..%d belong to no group", ErrConfig, next, p-1)
		return
	}
	t.groups = groups
	return
}

// count reports the number of groups.
func (t *groupTable) count() int {
	if t.groups == nil {
		return t.p
	}
	return len(t.groups)
}

// span reports the inclusive coordinate range of group id.
func (t *groupTable) span(id int) (first, last int) {
	if t.groups == nil {
		return id, id
	}
	g := t.groups[id]
	return g.First, g.Last
}

// size reports the number of coordinates in group id.
func (t *groupTable) size(id int) int {
	first, last := t.span(id)
	return last - first + 1
}

// weight reports the sacrifice weight of group id.
func (t *groupTable) weight(id int) float64 {
	if t.groups == nil || t.groups[id].Weight == zero {
		return one
	}
	return t.groups[id].Weight
}

// owner reports the group containing coordinate c.
func (t *groupTable) owner(c int) int {
	if t.groups == nil {
		return c
	}
	lo, hi := 0, len(t.groups)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if t.groups[mid].Last < c {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// expand appends the coordinates of the given ascending group ids to dst.
func (t *groupTable) expand(ids []int, dst []int) []int {
	for _, id := range ids {
		first, last := t.span(id)
		for c := first; c <= last; c++ {
			dst = append(dst, c)
		}
	}
	return dst
}
