package dispatcher

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/observability"
)

// ActionParameter describes one input of an arsenal action.
type ActionParameter struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Description  string `json:"description"`
	Required     bool   `json:"required"`
	DefaultValue any    `json:"defaultValue,omitempty"`
}

// ActionDefinition is an action advertised by the backend.
type ActionDefinition struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  []ActionParameter `json:"parameters,omitempty"`
}

// Arsenal fetches the backend's action catalogue and caches it for Execute.
func (d *Dispatcher) Arsenal(ctx context.Context) ([]ActionDefinition, error) {
	res := d.client.Get(ctx, "/actions")
	if err := res.AsError("dispatcher/arsenal"); err != nil {
		return nil, err
	}
	var payload struct {
		Actions []ActionDefinition `json:"actions"`
	}
	if err := res.Decode(&payload); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.arsenal = append([]ActionDefinition(nil), payload.Actions...)
	d.mu.Unlock()
	return payload.Actions, nil
}

// Execute validates params against the cached definition of id and posts
// {id, params} once. The raw backend reply is returned.
func (d *Dispatcher) Execute(ctx context.Context, id string, params map[string]any) (json.RawMessage, error) {
	id = strings.TrimSpace(id)
	def, ok := d.definition(id)
	if !ok {
		if _, err := d.Arsenal(ctx); err != nil {
			return nil, err
		}
		if def, ok = d.definition(id); !ok {
			return nil, errs.Validation("dispatcher/execute", fmt.Sprintf("unknown action %q", id))
		}
	}

	var missing []string
	for _, p := range def.Parameters {
		if p.Required && blank(params[p.Name]) {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		err := errs.New("dispatcher/execute", errs.CodeValidation,
			errs.WithMessage("missing required parameters: "+strings.Join(missing, ", ")),
			errs.WithField("action", id))
		d.metrics.RecordDispatch(ctx, "arsenal:"+id, err)
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}

	observability.Log().Info("executing arsenal action", observability.F("action", id))
	res := d.client.Post(ctx, "/actions/execute", map[string]any{"id": id, "params": params})
	err := res.AsError("dispatcher/execute")
	d.metrics.RecordDispatch(ctx, "arsenal:"+id, err)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

func (d *Dispatcher) definition(id string) (ActionDefinition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, def := range d.arsenal {
		if def.ID == id {
			return def, true
		}
	}
	return ActionDefinition{}, false
}

func blank(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	default:
		return false
	}
}
