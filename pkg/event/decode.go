package event

import "encoding/json"

// Rehydrate replaces e.Data with its typed payload struct when Data
// arrived as the generic map[string]any shape the store round-trips
// through json.Marshal/Unmarshal (see pkg/store's scanEvents). Events
// published live on the bus already carry a typed Data value and pass
// through unchanged. Unrecognized categories are left as-is.
func (e *Event) Rehydrate() error {
	raw, ok := e.Data.(map[string]any)
	if !ok {
		return nil
	}

	target, ok := newPayload(e.Category)
	if !ok {
		return nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(b, target); err != nil {
		return err
	}

	e.Data = target
	return nil
}

func newPayload(c Category) (any, bool) {
	switch c {
	case CategoryFile:
		return &FilePayload{}, true
	case CategoryGit:
		return &GitPayload{}, true
	case CategoryTest, CategoryBuild:
		return &RunPayload{}, true
	case CategoryAI:
		return &AIPayload{}, true
	case CategoryStage:
		return &StagePayload{}, true
	default:
		return nil, false
	}
}
