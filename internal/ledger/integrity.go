package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.DeploymentID) == "" {
		return errors.New("DeploymentID is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		return errors.New("ResourceType is required")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		return errors.New("ResourceID is required")
	}
	return nil
}

func payloadJSON(payload any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return blob, nil
}

// ComputeIntegritySHA256 hashes the event identity together with its payload.
func ComputeIntegritySHA256(event Event, payload []byte) (string, error) {
	type integrityInput struct {
		OccurredAt   time.Time       `json:"occurred_at"`
		DeploymentID string          `json:"deployment_id"`
		Action       string          `json:"action"`
		ResourceType string          `json:"resource_type"`
		ResourceID   string          `json:"resource_id"`
		Payload      json.RawMessage `json:"payload"`
	}

	in := integrityInput{
		OccurredAt:   event.OccurredAt.UTC(),
		DeploymentID: strings.TrimSpace(event.DeploymentID),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		Payload:      payload,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func prepareEvent(event Event, now func() time.Time) (Event, []byte, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now().UTC()
	}
	if err := event.Validate(); err != nil {
		return Event{}, nil, err
	}
	payload, err := payloadJSON(event.Payload)
	if err != nil {
		return Event{}, nil, err
	}
	integrity, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		return Event{}, nil, err
	}
	event.Integrity = integrity
	return event, payload, nil
}
