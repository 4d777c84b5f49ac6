package core

import (
	"fmt"
	"strings"
	"time"
)

const settlementSignaturePrefix = "Carryover settlement via next cycle bill "

// SettlementSignature is the note fragment identifying the settlement credit
// written for nextBillID. Rows created before SettlementOfBillID existed are
// recognised by it alone.
func SettlementSignature(nextBillID string) string {
	return settlementSignaturePrefix + nextBillID
}

// SettlementNote is the full human-readable note of the settlement credit
// written on prev for next.
func SettlementNote(next, prev Bill) string {
	return fmt.Sprintf("%s (carryover from cycle %s)", SettlementSignature(next.ID), prev.Cycle)
}

// IsSettlementFor reports whether tx is the settlement credit mirroring nextBillID.
func IsSettlementFor(tx BillTransaction, nextBillID string) bool {
	if tx.Type != TxCredit || nextBillID == "" {
		return false
	}
	if tx.SettlementOfBillID != "" {
		return tx.SettlementOfBillID == nextBillID
	}
	return strings.Contains(tx.Note, SettlementSignature(nextBillID))
}

// IsSettlementCredit reports whether tx is a settlement credit for any next
// bill.
func IsSettlementCredit(tx BillTransaction) bool {
	if tx.Type != TxCredit {
		return false
	}
	return tx.SettlementOfBillID != "" || strings.Contains(tx.Note, settlementSignaturePrefix)
}

// SettlementMarker is the idempotency marker appended to the predecessor's
// system notes when a settlement is recorded.
func SettlementMarker(nextBillID string) string {
	return "[carryover-settled:" + nextBillID + "]"
}

// SettlementAuditLine is the audit line carrying SettlementMarker.
func SettlementAuditLine(next Bill) string {
	return fmt.Sprintf("%s carryover settled by next cycle bill %s (%s)", SettlementMarker(next.ID), next.ID, next.Cycle)
}

// SettlementRemovedLine records that a settlement credit was withdrawn.
func SettlementRemovedLine(next Bill, now time.Time) string {
	return fmt.Sprintf("[carryover-reopened:%s] settlement credit removed after next cycle bill %s changed at=%s",
		next.ID, next.ID, now.UTC().Format(time.RFC3339))
}
