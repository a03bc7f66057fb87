package laborder

// Sanitize keeps only tests present in the catalog and binds each kept test
// to the first bundle of the same lab. Bundles must already be in creation
// order, which the repositories guarantee.
func (c *Context) Sanitize(tests *Catalog[LabTest]) {
	kept := make([]*OrderedTest, 0, len(c.Tests))
	for _, t := range c.Tests {
		if !tests.Has(t.LabTestID) {
			continue
		}
		t.ResultBundleID = nil
		for _, b := range c.Bundles {
			if b.LabID == t.LabID {
				id := b.ID
				t.ResultBundleID = &id
				break
			}
		}
		kept = append(kept, t)
	}
	c.Tests = kept
}

// ShadowCopy returns the order header as it is written to the shadow: keyed
// back to its source row, attached to shiftID, with contact details scrubbed.
// The referrer link is dropped; its name stays as a custom referrer name.
func (o *Order) ShadowCopy(shiftID *int64) *Order {
	cp := *o
	src := o.InvoiceID
	cp.SourceInvoiceID = &src
	cp.WorkShiftID = shiftID
	cp.ReferrerID = nil
	cp.IsReferrerUnknown = true
	cp.DisallowReferral = false
	cp.EmailAddress = nil
	cp.OrderNotes = nil
	return &cp
}
