package core

import "github.com/shopspring/decimal"

// BillView pairs a bill with its derived metrics.
type BillView struct {
	Bill         Bill              `json:"bill"`
	Metrics      Metrics           `json:"metrics"`
	Transactions []BillTransaction `json:"transactions,omitempty"`
}

// CycleOverview is a compact summary for a specific billing cycle.
type CycleOverview struct {
	Cycle     string          `json:"cycle"`
	TotalDue  decimal.Decimal `json:"total_due"`
	TotalPaid decimal.Decimal `json:"total_paid"`
	Balance   decimal.Decimal `json:"balance"`
	Bills     int             `json:"bills"`
	ByStatus  map[Status]int  `json:"by_status"`
}

// Summarize folds the views of one cycle into an overview. Archived bills are skipped.
func Summarize(cycle string, views []BillView) CycleOverview {
	o := CycleOverview{
		Cycle:     cycle,
		TotalDue:  decimal.Zero,
		TotalPaid: decimal.Zero,
		Balance:   decimal.Zero,
		ByStatus:  map[Status]int{StatusPending: 0, StatusOverdue: 0, StatusPaid: 0},
	}
	for _, v := range views {
		if v.Bill.Archived {
			continue
		}
		o.Bills++
		o.TotalDue = o.TotalDue.Add(v.Metrics.TotalDue)
		o.TotalPaid = o.TotalPaid.Add(v.Metrics.TotalPaid)
		o.Balance = o.Balance.Add(v.Metrics.Balance)
		o.ByStatus[v.Metrics.Status]++
	}
	return o
}
