// Package podcast turns speaker-labeled scripts into stitched multi-voice
// audio: script parsing, speaker-to-voice binding, sequential per-segment
// synthesis under a process-wide admission gate, and gap-padded stitching.
package podcast

import (
	"regexp"
	"strings"
)

// speakerPattern matches a line opening a new segment: a speaker label up to
// the first colon, then the utterance text (possibly empty).
var speakerPattern = regexp.MustCompile(`^([^:]+):\s*(.*)$`)

// Segment is one (speaker, utterance) unit of a script, in script order.
type Segment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ParseScript parses a script into ordered segments. Each non-blank line
// either opens a segment ("Speaker: text") or continues the open segment's
// text; continuation lines are joined with single spaces. A label-only line
// ("Speaker:") opens a segment that gains text only from continuation lines;
// a segment that never receives text is dropped. Lines before any label is
// established are dropped. Blank lines are ignored; silence gaps are an
// audio-level concern handled during stitching.
func ParseScript(script string) []Segment {
	var (
		segments []Segment
		speaker  string
		parts    []string
	)

	flush := func() {
		if speaker != "" && len(parts) > 0 {
			segments = append(segments, Segment{
				Speaker: speaker,
				Text:    strings.Join(parts, " "),
			})
		}

		parts = nil
	}

	for _, line := range strings.Split(strings.TrimSpace(script), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		match := speakerPattern.FindStringSubmatch(line)
		if match != nil {
			flush()

			speaker = strings.TrimSpace(match[1])

			if text := strings.TrimSpace(match[2]); text != "" {
				parts = append(parts, text)
			}

			continue
		}

		if speaker != "" {
			parts = append(parts, line)
		}
	}

	flush()

	return segments
}
