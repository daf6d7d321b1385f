package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"signalcraft-client/internal/analysis"
)

// Models lists the analysis models offered for deviceType. An empty
// deviceType lists every model.
func (c *Client) Models(ctx context.Context, deviceType string) ([]analysis.ModelDescriptor, error) {
	target := c.endpoint("api", "v1", "models")
	if dt := strings.TrimSpace(deviceType); dt != "" {
		target += "?" + url.Values{"device_type": []string{dt}}.Encode()
	}
	var models []analysis.ModelDescriptor
	if err := c.getJSON(ctx, target, &models); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return models, nil
}

type deviceConfigResponse struct {
	DeviceID            string               `json:"device_id"`
	ThresholdMultiplier float64              `json:"threshold_multiplier"`
	SensitivityLevel    analysis.Sensitivity `json:"sensitivity_level"`
	UpdatedAt           string               `json:"updated_at"`
}

// UpdateDeviceConfig sends PATCH /api/mobile/devices/{device_id}/config.
func (c *Client) UpdateDeviceConfig(ctx context.Context, deviceID string, cfg analysis.DeviceConfig) (analysis.DeviceConfigResult, error) {
	if err := cfg.Validate(); err != nil {
		return analysis.DeviceConfigResult{}, err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return analysis.DeviceConfigResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.endpoint("api", "mobile", "devices", deviceID, "config"), bytes.NewReader(payload))
	if err != nil {
		return analysis.DeviceConfigResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var parsed deviceConfigResponse
	if err := c.do(c.api, req, &parsed); err != nil {
		return analysis.DeviceConfigResult{}, fmt.Errorf("update device config: %w", err)
	}
	out := analysis.DeviceConfigResult{
		DeviceID:            parsed.DeviceID,
		ThresholdMultiplier: parsed.ThresholdMultiplier,
		SensitivityLevel:    parsed.SensitivityLevel,
		UpdatedAt:           parseTime(parsed.UpdatedAt),
	}
	if out.DeviceID == "" {
		out.DeviceID = deviceID
	}
	if out.ThresholdMultiplier == 0 {
		out.ThresholdMultiplier = cfg.ThresholdMultiplier
	}
	if out.SensitivityLevel == "" {
		out.SensitivityLevel = cfg.SensitivityLevel
	}
	return out, nil
}
