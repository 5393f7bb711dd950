package visualizer

// frameSplitter recovers fixed-size frames from an arbitrary byte
// stream. A partial frame at a read boundary is buffered and completed
// by the next read; it is never dropped or misaligned. After every Feed
// at most one partial frame remains buffered, so memory stays bounded
// no matter how the reads are split.
type frameSplitter struct {
	frameSize int
	buf       []byte
}

func newFrameSplitter(frameSize int) *frameSplitter {
	return &frameSplitter{frameSize: frameSize}
}

// Feed appends p to the pending buffer and returns every completed
// frame, oldest first.
func (s *frameSplitter) Feed(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var frames [][]byte
	for len(s.buf) >= s.frameSize {
		frame := make([]byte, s.frameSize)
		copy(frame, s.buf[:s.frameSize])
		frames = append(frames, frame)
		s.buf = s.buf[s.frameSize:]
	}
	return frames
}

// Resync drops any buffered partial frame and returns how many bytes
// were discarded. Called when the byte stream is interrupted (process
// restart, read error) and the next bytes are not guaranteed to
// continue where the last read stopped.
func (s *frameSplitter) Resync() int {
	n := len(s.buf)
	s.buf = s.buf[:0]
	return n
}

// Pending reports how many bytes of an incomplete frame are buffered
func (s *frameSplitter) Pending() int {
	return len(s.buf)
}
