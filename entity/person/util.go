package person

import (
	"cmp"
	"slices"
)

func sortPedestrians(ps []*Pedestrian) {
	slices.SortFunc(ps, func(a, b *Pedestrian) int { return cmp.Compare(a.id, b.id) })
}

func sortTrips(trips []Trip) {
	slices.SortFunc(trips, func(a, b Trip) int { return cmp.Compare(a.ID, b.ID) })
}
