package derive

import (
	"strconv"

	"github.com/coachpo/stratdeck/internal/domain/schema"
)

// TriggerGroup holds the triggers gating one action, in reported order.
type TriggerGroup struct {
	Action   string           `json:"action"`
	Triggers []schema.Trigger `json:"-"`
	Rows     []BreakdownRow   `json:"rows"`
}

// BreakdownRow is one condition line inside a trigger group.
type BreakdownRow struct {
	Condition string `json:"condition"`
	Target    string `json:"target"`
	Current   string `json:"current"`
	Distance  string `json:"distance"`
}

// GroupTriggers groups triggers by action. Groups appear in the order their
// action is first seen.
func GroupTriggers(triggers []schema.Trigger) []TriggerGroup {
	index := make(map[string]int, len(triggers))
	var groups []TriggerGroup
	for _, t := range triggers {
		i, ok := index[t.Action]
		if !ok {
			i = len(groups)
			index[t.Action] = i
			groups = append(groups, TriggerGroup{Action: t.Action})
		}
		groups[i].Triggers = append(groups[i].Triggers, t)
		groups[i].Rows = append(groups[i].Rows, breakdownRow(t))
	}
	return groups
}

// CountActions returns the number of distinct actions among triggers.
func CountActions(triggers []schema.Trigger) int {
	seen := make(map[string]struct{}, len(triggers))
	for _, t := range triggers {
		seen[t.Action] = struct{}{}
	}
	return len(seen)
}

func breakdownRow(t schema.Trigger) BreakdownRow {
	condition := t.Description
	if condition == "" {
		condition = t.Metric
	}
	row := BreakdownRow{
		Condition: condition,
		Current:   "?",
		Distance:  TriggerDistance(t.Current, t.Target),
	}
	if t.Target != nil {
		row.Target = strconv.FormatFloat(*t.Target, 'f', -1, 64)
	}
	if t.Current != nil {
		row.Current = schema.FormatFloat(*t.Current, 2)
	}
	return row
}
