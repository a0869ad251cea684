package podcast_test

import (
	"testing"

	"github.com/book-expert/voiceforge-service/internal/podcast"
)

func TestParseScript(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		script   string
		expected []podcast.Segment
	}{
		{
			name:   "two speakers alternating",
			script: "Alice: Hello!\nBob: Hi there.\nAlice: How are you?",
			expected: []podcast.Segment{
				{Speaker: "Alice", Text: "Hello!"},
				{Speaker: "Bob", Text: "Hi there."},
				{Speaker: "Alice", Text: "How are you?"},
			},
		},
		{
			name:   "continuation lines join with spaces",
			script: "Alice: First part\nsecond part\nthird part\nBob: Reply.",
			expected: []podcast.Segment{
				{Speaker: "Alice", Text: "First part second part third part"},
				{Speaker: "Bob", Text: "Reply."},
			},
		},
		{
			name:   "blank lines are ignored",
			script: "Alice: One.\n\n\nBob: Two.",
			expected: []podcast.Segment{
				{Speaker: "Alice", Text: "One."},
				{Speaker: "Bob", Text: "Two."},
			},
		},
		{
			name:   "label-only line gains text from continuations",
			script: "Alice:\nDelayed opening line.\nBob: Reply.",
			expected: []podcast.Segment{
				{Speaker: "Alice", Text: "Delayed opening line."},
				{Speaker: "Bob", Text: "Reply."},
			},
		},
		{
			name:   "label-only segment with no continuation is dropped",
			script: "Alice:\nBob: Only speaker with text.",
			expected: []podcast.Segment{
				{Speaker: "Bob", Text: "Only speaker with text."},
			},
		},
		{
			name:   "lines before any label are dropped",
			script: "stray narration\nmore stray text\nAlice: Actual opening.",
			expected: []podcast.Segment{
				{Speaker: "Alice", Text: "Actual opening."},
			},
		},
		{
			name:   "speaker labels keep internal spaces",
			script: "Dr. Smith: Good evening.",
			expected: []podcast.Segment{
				{Speaker: "Dr. Smith", Text: "Good evening."},
			},
		},
		{
			name:   "same speaker twice stays two segments",
			script: "Alice: First thought.\nAlice: Second thought.",
			expected: []podcast.Segment{
				{Speaker: "Alice", Text: "First thought."},
				{Speaker: "Alice", Text: "Second thought."},
			},
		},
		{
			name:     "empty script",
			script:   "",
			expected: nil,
		},
		{
			name:     "whitespace-only script",
			script:   "   \n\t\n  ",
			expected: nil,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := podcast.ParseScript(testCase.script)

			if len(got) != len(testCase.expected) {
				t.Fatalf("Expected %d segments, got %d: %v",
					len(testCase.expected), len(got), got)
			}

			for i, segment := range got {
				if segment != testCase.expected[i] {
					t.Errorf("Segment %d: expected %+v, got %+v",
						i, testCase.expected[i], segment)
				}
			}
		})
	}
}
