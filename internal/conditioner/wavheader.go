package conditioner

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// readWAVHeader reads duration and sample rate from a WAV header without
// decoding the sample data.
func readWAVHeader(path string) (float64, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open wav file '%s': %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := wav.NewDecoder(file)

	duration, err := decoder.Duration()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read wav header of '%s': %w", path, err)
	}

	if !decoder.IsValidFile() {
		return 0, 0, fmt.Errorf("%w: '%s' is not a valid wav file", ErrUnsupportedFormat, path)
	}

	return duration.Seconds(), int(decoder.SampleRate), nil
}
