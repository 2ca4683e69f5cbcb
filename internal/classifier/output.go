package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Status codes count only as standalone tokens such as "(401)" or
// "status 503", never as digits inside a timestamped file name.
var (
	unauthorizedPattern = regexp.MustCompile(`(?i)\bunauthori[sz]ed\b|(?:^|[\s(\[])401(?:$|[\s)\],;:])`)
	unavailablePattern  = regexp.MustCompile(`(?i)\bunavailable\b|(?:^|[\s(\[])503(?:$|[\s)\],;:])`)
)

type payload struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	Error      string   `json:"error"`
}

// parseOutput extracts the result object from classifier stdout.
//
// In permissive mode the first line whose trimmed content starts with "{" is
// the payload and everything else is noise. In strict mode stdout must be
// exactly one JSON object on one line.
func parseOutput(out []byte, strict bool) (*Result, error) {
	var line string
	if strict {
		trimmed := bytes.TrimSpace(out)
		if len(trimmed) == 0 || trimmed[0] != '{' || bytes.ContainsAny(trimmed, "\r\n") {
			return nil, newError(KindParse, "output is not a single JSON object line", nil)
		}
		line = string(trimmed)
	} else {
		for _, l := range strings.Split(string(out), "\n") {
			if t := strings.TrimSpace(l); strings.HasPrefix(t, "{") {
				line = t
				break
			}
		}
		if line == "" {
			return nil, newError(KindParse, "no valid JSON found in output", nil)
		}
	}

	var p payload
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		return nil, newError(KindParse, "failed to parse JSON response", err)
	}
	if p.Error != "" {
		return nil, newError(errorKind(p.Error), p.Error, nil)
	}

	label := strings.TrimSpace(p.Label)
	if label == "" {
		return nil, newError(KindParse, fmt.Sprintf("payload has no label: %s", line), nil)
	}
	return &Result{Label: label, Confidence: p.Confidence}, nil
}

// errorKind maps the error text reported by a remote classification backend.
func errorKind(msg string) Kind {
	switch {
	case unauthorizedPattern.MatchString(msg):
		return KindUnauthorized
	case unavailablePattern.MatchString(msg):
		return KindUnavailable
	default:
		return KindParse
	}
}
