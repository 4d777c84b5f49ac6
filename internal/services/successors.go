package services

import (
	"context"
	"fmt"

	"bollette/internal/core"
	"bollette/internal/store"
)

// FindSuccessors lists the bills that can resolve b as their predecessor:
// bills linked to it by PreviousBillID, plus unlinked bills with the same
// name in the next cycle. On error the bills found so far are returned.
func FindSuccessors(ctx context.Context, bills store.BillStore, b core.Bill) ([]core.Bill, error) {
	linked, err := bills.FilterBills(ctx, store.BillFilter{PreviousBillID: &b.ID})
	if err != nil {
		return nil, fmt.Errorf("list linked successors: %w", err)
	}
	out := linked
	nextCycle := core.NextCycle(b.Cycle)
	if nextCycle == "" {
		return out, nil
	}
	unlinked, err := bills.FilterBills(ctx, store.BillFilter{Name: &b.Name, Cycle: &nextCycle, PreviousBillID: store.Ptr("")})
	if err != nil {
		return out, fmt.Errorf("list unlinked successors: %w", err)
	}
	for _, u := range unlinked {
		if u.ID != b.ID {
			out = append(out, u)
		}
	}
	return out, nil
}
