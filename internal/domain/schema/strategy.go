package schema

// StrategyConfig is the subset of a strategy's configuration the console reads.
type StrategyConfig struct {
	Type         string   `json:"type,omitempty"`
	Intent       string   `json:"intent,omitempty"`
	Symbol       string   `json:"symbol"`
	Side         string   `json:"side"`
	Size         string   `json:"size"`
	StopPrice    *float64 `json:"stopPrice,omitempty"`
	TargetPrice  *float64 `json:"targetPrice,omitempty"`
	StrategyName string   `json:"strategyName,omitempty"`
}

// Trigger is one backend-reported condition gating an action. Target and
// Current share the unit of Metric.
type Trigger struct {
	Metric      string   `json:"metric"`
	Target      *float64 `json:"target,omitempty"`
	Current     *float64 `json:"current,omitempty"`
	Condition   string   `json:"condition"`
	Action      string   `json:"action"`
	Description string   `json:"description,omitempty"`
}

// StrategyStatus carries runtime details reported by the backend.
type StrategyStatus struct {
	Triggers []Trigger `json:"triggers,omitempty"`
}

// Strategy is the canonical strategy snapshot.
type Strategy struct {
	ID      string         `json:"id"`
	Running bool           `json:"running"`
	Config  StrategyConfig `json:"config"`
	Status  StrategyStatus `json:"status"`
}

// NormalizeStrategy maps a raw /maker/list entry onto a Strategy.
func NormalizeStrategy(raw Record) Strategy {
	s := Strategy{
		ID:      raw.Text([]string{"id"}, ""),
		Running: truthy(raw["running"]),
	}
	if cfg := nested(raw, "config"); cfg != nil {
		s.Config = StrategyConfig{
			Type:         cfg.Text([]string{"type"}, ""),
			Intent:       cfg.Text([]string{"intent"}, ""),
			Symbol:       cfg.Text([]string{"symbol"}, ""),
			Side:         cfg.Text([]string{"side"}, ""),
			Size:         cfg.Text([]string{"size"}, ""),
			StopPrice:    optionalNumber(cfg, "stopPrice"),
			TargetPrice:  optionalNumber(cfg, "targetPrice"),
			StrategyName: cfg.Text([]string{"strategyName"}, ""),
		}
	}
	if status := nested(raw, "status"); status != nil {
		if list, ok := status["triggers"].([]any); ok {
			s.Status.Triggers = make([]Trigger, 0, len(list))
			for _, item := range list {
				t := asRecord(item)
				if t == nil {
					continue
				}
				s.Status.Triggers = append(s.Status.Triggers, Trigger{
					Metric:      t.Text([]string{"metric"}, ""),
					Target:      optionalNumber(t, "target"),
					Current:     optionalNumber(t, "current"),
					Condition:   t.Text([]string{"condition"}, ""),
					Action:      t.Text([]string{"action"}, ""),
					Description: t.Text([]string{"description"}, ""),
				})
			}
		}
	}
	return s
}

// NormalizeStrategies maps every record, skipping nil entries.
func NormalizeStrategies(raw []Record) []Strategy {
	out := make([]Strategy, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		out = append(out, NormalizeStrategy(r))
	}
	return out
}

// PartitionStrategies splits strategies by their running flag, preserving order.
func PartitionStrategies(all []Strategy) (active, inactive []Strategy) {
	for _, s := range all {
		if s.Running {
			active = append(active, s)
		} else {
			inactive = append(inactive, s)
		}
	}
	return active, inactive
}

func optionalNumber(r Record, key string) *float64 {
	f, ok := r.Number(key)
	if !ok {
		return nil
	}
	return &f
}

func nested(r Record, key string) Record {
	return asRecord(r[key])
}

func asRecord(v any) Record {
	switch typed := v.(type) {
	case Record:
		return typed
	case map[string]any:
		return Record(typed)
	default:
		return nil
	}
}

func truthy(v any) bool {
	switch typed := v.(type) {
	case bool:
		return typed
	case string:
		return typed == "true"
	default:
		return false
	}
}
