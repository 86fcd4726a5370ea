package audio

import (
	"fmt"
	"path/filepath"
	"sort"
)

// MeetingFileName returns the recorder's file name for one segment of a
// meeting recording.
func MeetingFileName(meetingID int64, sequence int) string {
	return fmt.Sprintf("meeting_%d_%d.wav", meetingID, sequence)
}

// ListMeetingFiles returns all recorded audio files for a meeting, sorted by
// name. The recorder names files per [MeetingFileName], so the sort order
// matches recording order. An empty result is not an error — a meeting may
// have no recordings yet.
func ListMeetingFiles(dir string, meetingID int64) ([]string, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("meeting_%d_*.wav", meetingID))
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("audio: list meeting files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
