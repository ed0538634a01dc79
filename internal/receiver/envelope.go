package receiver

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/talentbridge-systems/crmsync/internal/model"
	"github.com/talentbridge-systems/crmsync/internal/schema"
)

// vendorEnvelope is the wire shape of the CRM's webhook body. This is the
// only layer that understands it; everything downstream uses the canonical
// ChangeEvent.
type vendorEnvelope struct {
	Data      []map[string]any `json:"data"`
	Operation string           `json:"operation"`
	User      map[string]any   `json:"user"`
	Timestamp int64            `json:"timestamp"`
}

// parsedEvent pairs a canonical event with the raw JSON of its data element,
// which the webhook log keeps for audit fidelity.
type parsedEvent struct {
	event model.ChangeEvent
	raw   json.RawMessage
}

// parseEnvelope converts the vendor wrapper into canonical change events.
// The entity type is carried as a prefix of the vendor operation string
// ("CandidateUpdated", "job_order.delete") and matched against the schema
// registry's declared entity types.
func parseEnvelope(body []byte, registry *schema.Registry) ([]parsedEvent, error) {
	var env vendorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data array", ErrInvalidEnvelope)
	}
	if env.Operation == "" {
		return nil, fmt.Errorf("%w: missing operation", ErrInvalidEnvelope)
	}
	if env.Timestamp <= 0 {
		// A synthesized timestamp would always win the conflict check, so a
		// delivery without one is rejected rather than guessed at.
		return nil, fmt.Errorf("%w: missing timestamp", ErrInvalidEnvelope)
	}

	entityType := matchEntityType(env.Operation, registry)
	if entityType == "" {
		return nil, fmt.Errorf("%w: operation %q names no known entity type", ErrInvalidEnvelope, env.Operation)
	}

	op := model.ParseOperation(env.Operation, entityType)
	actor := parseActor(env.User)
	ts := epochTime(env.Timestamp)

	out := make([]parsedEvent, 0, len(env.Data))
	for _, fields := range env.Data {
		entityID := stringField(fields, "id")
		if entityID == "" {
			return nil, fmt.Errorf("%w: data element missing id", ErrInvalidEnvelope)
		}

		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}

		out = append(out, parsedEvent{
			event: model.ChangeEvent{
				EntityType:            entityType,
				Operation:             op,
				EntityID:              entityID,
				Actor:                 actor,
				Fields:                fields,
				SourceSystemTimestamp: ts,
			},
			raw: raw,
		})
	}
	return out, nil
}

// matchEntityType finds the registry entity type the operation string is
// prefixed with. Matching ignores case and separators.
func matchEntityType(operation string, registry *schema.Registry) string {
	collapse := strings.NewReplacer(".", "", "_", "", "-", "", " ", "")
	opKey := strings.ToLower(collapse.Replace(operation))

	best := ""
	bestLen := 0
	for _, entityType := range registry.EntityTypes() {
		key := strings.ToLower(collapse.Replace(entityType))
		if strings.HasPrefix(opKey, key) && len(key) > bestLen {
			best = entityType
			bestLen = len(key)
		}
	}
	return best
}

func parseActor(user map[string]any) model.Actor {
	return model.Actor{
		ID:    stringField(user, "id"),
		Name:  stringField(user, "name"),
		Email: stringField(user, "email"),
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.0f", v), ".")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func marshalMessage(msg *model.QueueMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal queue message: %w", err)
	}
	return data, nil
}

// epochTime interprets the vendor timestamp, which arrives in epoch
// milliseconds (seconds tolerated for older vendor versions). Zero and
// negative values are rejected during envelope validation.
func epochTime(n int64) time.Time {
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
