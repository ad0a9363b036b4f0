package protocol

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/relvacode/iso8601"
)

// TelemetryResponse is the decoded body of the telemetry endpoint. Absent
// fields stay nil so the poller can keep its previous values.
type TelemetryResponse struct {
	Current *Reading
	History []Reading
	// HasHistory distinguishes an absent history from an empty one
	HasHistory bool
}

// TokenResponse is the body of the viewer token endpoint
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

type telemetryBody struct {
	Current json.RawMessage `json:"current"`
	History json.RawMessage `json:"history"`
}

type wireReading struct {
	Temp        json.RawMessage `json:"temp"`
	Humidity    json.RawMessage `json:"humidity"`
	Pressure    json.RawMessage `json:"pressure"`
	LastUpdated json.RawMessage `json:"lastUpdated"`
}

// DecodeTelemetry parses a telemetry body into typed readings.
// Malformed numeric fields become missing values instead of errors; only a
// body that is not a JSON object fails.
func DecodeTelemetry(data []byte) (*TelemetryResponse, error) {
	var body telemetryBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("invalid telemetry JSON: %w", err)
	}

	resp := &TelemetryResponse{}

	if present(body.Current) {
		if r, ok := decodeReading(body.Current); ok {
			resp.Current = &r
		}
	}

	if present(body.History) {
		var items []json.RawMessage
		if err := json.Unmarshal(body.History, &items); err != nil {
			return nil, fmt.Errorf("invalid telemetry history: %w", err)
		}
		history := make([]Reading, 0, len(items))
		for _, item := range items {
			if r, ok := decodeReading(item); ok {
				history = append(history, r)
			}
		}
		SortNewestFirst(history)
		resp.History = history
		resp.HasHistory = true
	}

	return resp, nil
}

// DecodeToken parses the token endpoint body
func DecodeToken(data []byte) (string, error) {
	var tok TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", fmt.Errorf("invalid token JSON: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("access_token is required")
	}
	return tok.AccessToken, nil
}

// SortNewestFirst orders readings by timestamp, newest first. Equal timestamps
// keep the feed's order.
func SortNewestFirst(history []Reading) {
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.After(history[j].Timestamp)
	})
}

func decodeReading(raw json.RawMessage) (Reading, bool) {
	var w wireReading
	if err := json.Unmarshal(raw, &w); err != nil {
		return Reading{}, false
	}
	return Reading{
		Temperature: parseNumber(w.Temp),
		Humidity:    parseNumber(w.Humidity),
		Pressure:    parseNumber(w.Pressure),
		Timestamp:   parseTimestamp(w.LastUpdated),
	}, true
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// parseNumber accepts JSON numbers and numeric strings
func parseNumber(raw json.RawMessage) *float64 {
	if !present(raw) {
		return nil
	}

	text := string(bytes.TrimSpace(raw))
	if text[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		text = strings.TrimSpace(s)
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// parseTimestamp accepts ISO-8601 strings and epoch milliseconds
func parseTimestamp(raw json.RawMessage) time.Time {
	if !present(raw) {
		return time.Time{}
	}

	text := string(bytes.TrimSpace(raw))
	if text[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
		s = strings.TrimSpace(s)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		t, err := iso8601.ParseString(s)
		if err != nil {
			return time.Time{}
		}
		return t
	}

	ms, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}
