package store

import (
	"encoding/json"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

func encodeTrigger(t models.TriggerConfig) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTrigger(s string) (models.TriggerConfig, error) {
	var t models.TriggerConfig
	if s == "" {
		return t, nil
	}
	err := json.Unmarshal([]byte(s), &t)
	return t, err
}
