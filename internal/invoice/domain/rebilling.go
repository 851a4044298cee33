package domain

import (
	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
)

// RebillingContext names the chain nodes a caller believes surround the
// invoice being deleted.
type RebillingContext struct {
	OriginalInvoiceID snowflake.ID `json:"original_invoice_id"`
	RebillInvoiceID   snowflake.ID `json:"rebill_invoice_id"`
}

// DeletionPlan is the full set of invoice changes for one invoice deletion,
// decided before anything is written.
type DeletionPlan struct {
	// Delete holds every invoice to cascade, target first.
	Delete []Invoice
	// Clear holds invoices that leave the rebilling chain entirely.
	Clear []snowflake.ID
	// MarkRebill holds the surviving antecedent that becomes the live rebill.
	MarkRebill []snowflake.ID
	// Relink maps each deleted invoice to the id its dependants should point
	// at instead. A nil value detaches them.
	Relink map[snowflake.ID]*snowflake.ID
}

// DeletedIDs returns the ids of every invoice the plan deletes.
func (p DeletionPlan) DeletedIDs() []snowflake.ID {
	return lo.Map(p.Delete, func(inv Invoice, _ int) snowflake.ID { return inv.ID })
}

// PlanDeletion decides what deleting the start of chain means for the rest of
// it. Without a rebilling context only the target goes.
//
// When the target directly rebills original, original is cleared. Otherwise
// every in-batch node between the target and the first node outside the
// batch, the named original or the root is deleted too, and that survivor
// becomes the rebill again. A root survivor is cleared instead. The named
// rebill invoice is deleted with the target when it sits in the same batch.
func PlanDeletion(chain Chain, original, rebill *Invoice) DeletionPlan {
	target := chain.Start()
	plan := DeletionPlan{
		Delete: []Invoice{target},
		Relink: map[snowflake.ID]*snowflake.ID{},
	}

	survivor := target.OriginalInvoiceID
	if original != nil {
		if target.OriginalInvoiceID != nil && *target.OriginalInvoiceID == original.ID {
			plan.Clear = append(plan.Clear, original.ID)
		} else {
			var kept *Invoice
			for _, a := range chain.Ancestors() {
				if a.ID == original.ID || a.BatchID != target.BatchID || a.OriginalInvoiceID == nil {
					kept = &a
					break
				}
				plan.Delete = append(plan.Delete, a)
			}
			survivor = nil
			if kept != nil {
				survivor = &kept.ID
				if kept.OriginalInvoiceID == nil {
					plan.Clear = append(plan.Clear, kept.ID)
				} else {
					plan.MarkRebill = append(plan.MarkRebill, kept.ID)
				}
			}
		}
	}

	if rebill != nil && rebill.ID != target.ID && rebill.BatchID == target.BatchID {
		deleted := plan.DeletedIDs()
		if !lo.Contains(deleted, rebill.ID) {
			plan.Delete = append(plan.Delete, *rebill)
			if rebill.OriginalInvoiceID != nil && !lo.Contains(deleted, *rebill.OriginalInvoiceID) {
				plan.Relink[rebill.ID] = rebill.OriginalInvoiceID
			}
		}
	}

	for _, inv := range plan.Delete {
		if _, set := plan.Relink[inv.ID]; !set {
			plan.Relink[inv.ID] = survivor
		}
	}
	return plan
}
