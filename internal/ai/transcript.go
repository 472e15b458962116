package ai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const maxTranscriptLine = 16 * 1024 * 1024

// scanJSONLines calls fn for every line of path that decodes as JSON into a
// fresh T. Other lines are skipped.
func scanJSONLines[T any](path string, fn func(T)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxTranscriptLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev T
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		fn(ev)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read transcript %s: %w", path, err)
	}
	return nil
}

// claudeEvent is one line of `claude --output-format stream-json`.
type claudeEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Result  string `json:"result"`
	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// parseClaudeStream returns the text of the final result event, or the last
// assistant text block when the stream ended without one.
func parseClaudeStream(path string) (string, error) {
	var result, lastAssistant string
	haveResult := false
	err := scanJSONLines(path, func(ev claudeEvent) {
		switch ev.Type {
		case "result":
			result, haveResult = ev.Result, true
		case "assistant":
			if ev.Message == nil {
				return
			}
			var parts []string
			for _, c := range ev.Message.Content {
				if c.Type == "text" && c.Text != "" {
					parts = append(parts, c.Text)
				}
			}
			if len(parts) > 0 {
				lastAssistant = strings.Join(parts, "\n")
			}
		}
	})
	if err != nil {
		return "", err
	}
	if haveResult {
		return strings.TrimSpace(result), nil
	}
	return strings.TrimSpace(lastAssistant), nil
}

// codexEvent covers both the item-based and the older msg-based JSON
// event formats of `codex exec --json`.
type codexEvent struct {
	Type string `json:"type"`
	Item *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
	Msg *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"msg"`
}

// parseCodexEvents returns the text of the last agent message.
func parseCodexEvents(path string) (string, error) {
	var last string
	err := scanJSONLines(path, func(ev codexEvent) {
		switch {
		case ev.Item != nil && ev.Item.Type == "agent_message" && ev.Type == "item.completed":
			last = ev.Item.Text
		case ev.Msg != nil && ev.Msg.Type == "agent_message":
			last = ev.Msg.Message
		}
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(last), nil
}

// parsePlain returns the whole transcript.
func parsePlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
