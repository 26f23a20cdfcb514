package rpcbackend

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// transportFailurePattern matches errors worth a resetServer-then-retry:
// the JSON-RPC connection dropped or refused mid-operation rather than the
// server answering with a protocol-level error.
var transportFailurePattern = regexp.MustCompile(`(?i)websocket|econnrefused|epipe|socket hang up|closed.*connect|connection reset|broken pipe`)

func isTransportFailure(err error) bool {
	if err == nil {
		return false
	}
	return transportFailurePattern.MatchString(err.Error())
}

var resumeNotFoundPattern = regexp.MustCompile(`(?i)no rollout|thread not found`)

func isResumeNotFound(err error) bool {
	return err != nil && resumeNotFoundPattern.MatchString(err.Error())
}

var includeTurnsUnavailablePattern = regexp.MustCompile(`(?i)includeTurns unavailable before first user message`)

func isIncludeTurnsUnavailable(err error) bool {
	return err != nil && includeTurnsUnavailablePattern.MatchString(err.Error())
}

var threadNotLoadedPattern = regexp.MustCompile(`(?i)thread not loaded|thread not found`)

func isThreadNotLoaded(err error) bool {
	return err != nil && threadNotLoadedPattern.MatchString(err.Error())
}

// runtimeStatus is the transitional status vocabulary thread/resume reports.
type runtimeStatus string

const (
	runtimeIdle       runtimeStatus = "idle"
	runtimeNotLoaded  runtimeStatus = "notLoaded"
	runtimeSystemErr  runtimeStatus = "systemError"
	runtimeActive     runtimeStatus = "active"
	runtimeUnknown    runtimeStatus = "unknown"
)

// parseRuntimeStatus applies the literal mapping rules from thread.status:
// absent -> idle; "idle"/"notLoaded"/"systemError" map literally; an object
// with an "active" key -> active; anything else -> unknown.
func parseRuntimeStatus(raw json.RawMessage) runtimeStatus {
	if len(raw) == 0 || string(raw) == "null" {
		return runtimeIdle
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		switch asString {
		case string(runtimeIdle), string(runtimeNotLoaded), string(runtimeSystemErr):
			return runtimeStatus(asString)
		}
		return runtimeUnknown
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err == nil {
		if _, ok := asObject["active"]; ok {
			return runtimeActive
		}
	}
	return runtimeUnknown
}

type threadStartResult struct {
	Thread struct {
		ID string `json:"id"`
	} `json:"thread"`
}

type threadResumeResult struct {
	Thread struct {
		ID     string          `json:"id"`
		Status json.RawMessage `json:"status"`
	} `json:"thread"`
}

type turnStartResult struct {
	Turn struct {
		ID string `json:"id"`
	} `json:"turn"`
}

type threadReadResult struct {
	Thread struct {
		Turns []struct {
			Items []threadItem `json:"items"`
		} `json:"turns"`
	} `json:"thread"`
}

type threadItem struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Content json.RawMessage `json:"content"`
}

// assistantText returns the item's text if it is an agentMessage, else "".
func (i threadItem) assistantText() (string, bool) {
	if i.Type != "agentMessage" {
		return "", false
	}
	return i.Text, true
}

// userText returns the item's text if it is a userMessage, preferring the
// text field and falling back to a string content field.
func (i threadItem) userText() (string, bool) {
	if i.Type != "userMessage" {
		return "", false
	}
	if i.Text != "" {
		return i.Text, true
	}
	var s string
	if err := json.Unmarshal(i.Content, &s); err == nil {
		return s, true
	}
	return "", true
}

func trimErrorMessage(msg string) string {
	return strings.TrimSpace(msg)
}

func unmarshalResult(raw json.RawMessage, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("rpcbackend: malformed result: %w", err)
	}
	return nil
}
