package patternstore

import (
	"encoding/json"
	"fmt"

	"github.com/kato-engine/kato"
)

func encodeEvents(events []kato.Event) (string, error) {
	raw := make([][]string, len(events))
	for i, ev := range events {
		raw[i] = []string(ev)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("encode events: %w", err)
	}
	return string(data), nil
}

func decodeEvents(jsonStr string) ([]kato.Event, error) {
	if jsonStr == "" {
		return nil, nil
	}
	var raw [][]string
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	out := make([]kato.Event, len(raw))
	for i, ev := range raw {
		out[i] = kato.Event(ev)
	}
	return out, nil
}

func encodeEmotives(emotives map[string][]float64) (string, error) {
	if len(emotives) == 0 {
		return "", nil
	}
	data, err := json.Marshal(emotives)
	if err != nil {
		return "", fmt.Errorf("encode emotives: %w", err)
	}
	return string(data), nil
}

func decodeEmotives(jsonStr string) (map[string][]float64, error) {
	if jsonStr == "" {
		return nil, nil
	}
	var emotives map[string][]float64
	if err := json.Unmarshal([]byte(jsonStr), &emotives); err != nil {
		return nil, fmt.Errorf("decode emotives: %w", err)
	}
	return emotives, nil
}
