package api

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"dubstudio/pkg/logging"
)

// Regex to capture key=value or key="value with spaces"
var logRegex = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"([^"]*)"|([^ ]+))`)

type logResponse struct {
	Log    string   `json:"log"`
	Lines  []string `json:"lines,omitempty"`
	Events []string `json:"events,omitempty"`
}

// handleLatestLog returns the last captured log line. ?lines=n adds the n
// most recent lines, ?events=n the most recent job events.
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	resp := logResponse{Log: formatLogLine(logging.GlobalLogCapture.GetLastLine())}
	q := r.URL.Query()
	if n, err := strconv.Atoi(q.Get("lines")); err == nil && n > 0 {
		for _, l := range logging.GlobalLogCapture.Lines(n) {
			resp.Lines = append(resp.Lines, formatLogLine(l))
		}
	}
	if n, err := strconv.Atoi(q.Get("events")); err == nil && n > 0 {
		resp.Events = logging.GlobalEventCapture.Lines(n)
	}
	writeJSON(w, http.StatusOK, resp)
}

// formatLogLine condenses a slog text line to "HH:MM:SS msg (k=v, ...)".
// Params are sorted and long values dropped.
func formatLogLine(raw string) string {
	matches := logRegex.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return raw
	}

	var msg string
	var timeStr string
	var params []string

	for _, m := range matches {
		key := m[1]
		val := m[2]
		if val == "" {
			val = m[3]
		}
		val = strings.TrimSpace(val)

		switch key {
		case "time":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				timeStr = t.Format("15:04:05")
			}
			continue
		case "level":
			continue
		case "msg":
			msg = val
			continue
		}

		if len(val) > 20 {
			continue
		}
		params = append(params, fmt.Sprintf("%s=%s", key, val))
	}

	if msg == "" {
		return raw
	}

	sort.Strings(params)

	output := msg
	if timeStr != "" {
		output = fmt.Sprintf("%s %s", timeStr, msg)
	}
	if len(params) > 0 {
		return fmt.Sprintf("%s (%s)", output, strings.Join(params, ", "))
	}
	return output
}
