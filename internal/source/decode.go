package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

func toText(body []byte) string {
	return strings.ToValidUTF8(string(body), "\uFFFD")
}

func decode(format string, body []byte) (string, error) {
	text := toText(body)
	switch format {
	case "", FormatText:
		return text, nil
	case FormatN2YOJSON:
		var resp struct {
			TLE string `json:"tle"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode n2yo response: %w", err)
		}
		if strings.TrimSpace(resp.TLE) == "" {
			return "", errors.New("n2yo response has no tle field")
		}
		return strings.ReplaceAll(resp.TLE, "\r\n", "\n"), nil
	case FormatSpaceTrack:
		trimmed := strings.TrimSpace(text)
		if strings.Contains(trimmed, "Login failed") || strings.HasPrefix(trimmed, "{") {
			return "", errors.New("space-track authentication or query error")
		}
		return text, nil
	default:
		return "", fmt.Errorf("unknown payload format %q", format)
	}
}
