package discrepancy

import (
	"kpiboard/internal/apperr"
)

// Lookup addresses the record a board cell should show. PeriodLabel is set
// only for recurring deliverables.
type Lookup struct {
	KPIID            string
	DeliverableIndex int
	DeliverableID    string
	PeriodLabel      string
	AssigneeID       string
}

// Find returns the single record matching l. Index matches win over id
// matches, except that an index hit whose stored deliverable id contradicts
// l.DeliverableID is treated as stale. More than one match is an integrity
// failure and is reported as an internal error.
func Find(records []Record, l Lookup) (Record, bool, error) {
	var byIndex, byID []Record
	for _, r := range records {
		if r.KPIID != l.KPIID || r.AssigneeID != l.AssigneeID {
			continue
		}
		if r.PeriodLabel != l.PeriodLabel {
			continue
		}
		idKnown := r.DeliverableID != "" && l.DeliverableID != ""
		if r.DeliverableIndex == l.DeliverableIndex && !(idKnown && r.DeliverableID != l.DeliverableID) {
			byIndex = append(byIndex, r)
			continue
		}
		if idKnown && r.DeliverableID == l.DeliverableID {
			byID = append(byID, r)
		}
	}

	for _, candidates := range [][]Record{byIndex, byID} {
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return candidates[0], true, nil
		default:
			return Record{}, false, apperr.New(apperr.KindInternal,
				"%d discrepancy records share key (kpi=%s index=%d id=%s period=%q assignee=%s)",
				len(candidates), l.KPIID, l.DeliverableIndex, l.DeliverableID, l.PeriodLabel, l.AssigneeID)
		}
	}
	return Record{}, false, nil
}
