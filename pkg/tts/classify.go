package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dubstudio/pkg/model"
	"dubstudio/pkg/request"
)

// CodePoolUnconfigured marks a shared credential pool with no keys in it.
const CodePoolUnconfigured = "pool_unconfigured"

var (
	poolRegex    = regexp.MustCompile(`(?i)(no (api )?keys? (are )?(configured|available) (in|for) (the )?(shared )?pool|pool (is )?(unconfigured|not configured|empty)|credential pool)`)
	authRegex    = regexp.MustCompile(`(?i)(api key not valid|invalid (api |subscription )?key|unauthori[sz]ed|permission denied|forbidden|authentication failed|access denied|missing (api )?key)`)
	quotaRegex   = regexp.MustCompile(`(?i)(quota|rate.?limit|too many requests|resource.?exhausted|usage limit)`)
	modelRegex   = regexp.MustCompile(`(?i)(model\b.*\b(not found|unavailable|deprecated|not supported|does not exist)|unknown model|no longer available|is not found for api version)`)
	networkRegex = regexp.MustCompile(`(?i)(unreachable|connection (refused|reset)|timed? ?out|temporarily unavailable|bad gateway|service unavailable|overloaded|no such host)`)
	retryInRegex = regexp.MustCompile(`(?i)retry (?:in|after) (\d+(?:\.\d+)?)\s*(ms|s|sec|seconds?)?`)
)

type structuredError struct {
	ErrorCode    string `json:"errorCode"`
	Summary      string `json:"summary"`
	RetryAfterMs int64  `json:"retryAfterMs"`
}

type googleError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Classify maps a failed engine response onto the error taxonomy. It returns
// nil for 2xx statuses. Machine-readable codes win over the status code, which
// wins over text patterns.
func Classify(engine string, status int, body []byte, header http.Header) *model.Error {
	if status >= 200 && status < 300 {
		return nil
	}

	text := strings.TrimSpace(string(body))
	code := ""
	retryAfter := time.Duration(0)

	var se structuredError
	var ge googleError
	if json.Unmarshal(body, &se) == nil && se.ErrorCode != "" {
		code = strings.ToLower(se.ErrorCode)
		if se.Summary != "" {
			text = se.Summary
		}
		retryAfter = time.Duration(se.RetryAfterMs) * time.Millisecond
	} else if json.Unmarshal(body, &ge) == nil && ge.Error != nil {
		code = strings.ToLower(ge.Error.Status)
		text = ge.Error.Message
	}
	if retryAfter == 0 {
		retryAfter = parseRetryAfter(header, text)
	}
	return classify(engine, status, code, text, retryAfter)
}

// ClassifyAPI maps an SDK error carrying a status, a status name and a message.
func ClassifyAPI(engine string, status int, code, message string) *model.Error {
	return classify(engine, status, strings.ToLower(code), message, parseRetryAfter(nil, message))
}

func classify(engine string, status int, code, text string, retryAfter time.Duration) *model.Error {
	kind, known := kindForCode(code)
	if !known {
		kind, known = kindForStatus(status)
	}
	if !known || kind == model.KindOther {
		if k, ok := kindForText(text); ok {
			kind, known = k, true
		}
	}
	if !known && status >= 500 {
		kind = model.KindNetworkUnreachable
	}

	if code == CodePoolUnconfigured || poolRegex.MatchString(text) {
		return poolUnconfigured(engine)
	}

	if code == "" {
		code = fmt.Sprintf("http_%d", status)
	}
	msg := model.Truncate(fmt.Sprintf("%s: %s", engine, firstLine(text)), model.MaxMessageLen)
	e := model.NewError(kind, code, msg, nil)
	if kind == model.KindQuotaOrRateLimited {
		e.RetryAfter = retryAfter
	}
	return e
}

// ClassifyError maps a transport or client-side error onto the taxonomy.
// Cancellation is returned as model.Aborted, not classified.
func ClassifyError(engine string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return model.Aborted(err)
	}
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) || errors.Is(err, request.ErrMaxRetries) {
		return model.NewError(model.KindNetworkUnreachable, "network", engine+" is unreachable", err)
	}
	text := err.Error()
	if poolRegex.MatchString(text) {
		return poolUnconfigured(engine)
	}
	kind, ok := kindForText(text)
	if !ok {
		kind = model.KindOther
	}
	e := model.NewError(kind, "", engine+" request failed", err)
	if kind == model.KindQuotaOrRateLimited {
		e.RetryAfter = parseRetryAfter(nil, text)
	}
	return e
}

// ClassifyResponse classifies a non-2xx response from the shared HTTP client.
func ClassifyResponse(engine string, resp *request.Response) *model.Error {
	return Classify(engine, resp.Status, resp.Body, resp.Header)
}

func poolUnconfigured(engine string) *model.Error {
	return model.NewError(model.KindAuthRejected, CodePoolUnconfigured,
		fmt.Sprintf("The shared %s key pool has no keys configured. Add a key to the engines section of the config or set the engine's API key environment variable.", engine), nil)
}

func kindForCode(code string) (model.ErrorKind, bool) {
	switch code {
	case "":
		return model.KindOther, false
	case CodePoolUnconfigured, "auth_rejected", "unauthorized", "unauthenticated", "permission_denied", "invalid_api_key", "forbidden":
		return model.KindAuthRejected, true
	case "quota_exceeded", "quota_or_rate_limited", "rate_limited", "resource_exhausted", "usage_limit":
		return model.KindQuotaOrRateLimited, true
	case "model_unavailable", "model_not_found", "model_deprecated", "not_found":
		return model.KindModelUnavailable, true
	case "network_unreachable", "upstream_unreachable", "unavailable", "deadline_exceeded", "timeout":
		return model.KindNetworkUnreachable, true
	case "validation", "word_limit_exceeded", "empty_input":
		return model.KindValidation, true
	}
	return model.KindOther, false
}

func kindForStatus(status int) (model.ErrorKind, bool) {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.KindAuthRejected, true
	case http.StatusTooManyRequests:
		return model.KindQuotaOrRateLimited, true
	case http.StatusNotFound, http.StatusGone:
		return model.KindModelUnavailable, true
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return model.KindNetworkUnreachable, true
	}
	return model.KindOther, false
}

func kindForText(text string) (model.ErrorKind, bool) {
	switch {
	case authRegex.MatchString(text):
		return model.KindAuthRejected, true
	case quotaRegex.MatchString(text):
		return model.KindQuotaOrRateLimited, true
	case modelRegex.MatchString(text):
		return model.KindModelUnavailable, true
	case networkRegex.MatchString(text):
		return model.KindNetworkUnreachable, true
	}
	return model.KindOther, false
}

func parseRetryAfter(header http.Header, text string) time.Duration {
	if header != nil {
		if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
			if t, err := http.ParseTime(v); err == nil {
				if d := time.Until(t); d > 0 {
					return d
				}
			}
		}
	}
	m := retryInRegex.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	if strings.EqualFold(m[2], "ms") {
		return time.Duration(v * float64(time.Millisecond))
	}
	return time.Duration(v * float64(time.Second))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "empty response"
	}
	return s
}
