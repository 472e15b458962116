package loop

import (
	"regexp"
	"strings"
)

const promiseOpen = "<promise>"

// negationPattern matches phrases that turn a quoted promise into a denial.
var negationPattern = regexp.MustCompile(`(?i)\b(cannot|can['’]t|won['’]t|will not|do not|don['’]t|should not|shouldn['’]t|must not|mustn['’]t)\b`)

// PromiseLine returns the exact line that signals completion for marker.
func PromiseLine(marker string) string {
	return promiseOpen + marker + "</promise>"
}

// lastNonBlankLine returns the last line of text that is not only whitespace,
// with surrounding whitespace removed.
func lastNonBlankLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// IsComplete decides whether an iteration finished the work. All of these
// must hold:
//   - no unchecked items remain in the task file,
//   - the last non-blank line of answer is exactly <promise>marker</promise>,
//   - that line has no negation phrase before the <promise> tag.
func IsComplete(answer, marker string, remaining int) bool {
	if remaining > 0 || marker == "" {
		return false
	}
	line := lastNonBlankLine(answer)
	if line != PromiseLine(marker) {
		return false
	}
	idx := strings.Index(line, promiseOpen)
	return !negationPattern.MatchString(line[:idx])
}
