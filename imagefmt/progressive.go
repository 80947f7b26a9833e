package imagefmt

// Scanner is the stateful progressive-JPEG scan-marker scanner (spec.md
// §6): fed successive, cumulative prefixes of a downloading JPEG, it
// reports the byte offset immediately before the last complete
// start-of-scan marker (FF DA) once at least two such markers have been
// observed, so a decoder can render everything up to that point as a
// preview. The zero value is ready to use.
//
// The offset returned is lastStartOfScan-1, not lastStartOfScan: spec.md
// preserves this exact arithmetic from the source it was distilled from
// rather than correcting what may or may not be an off-by-one, so this
// scanner does too.
type Scanner struct {
	scanned         int // prefix already scanned, minus one trailing byte held back
	scanCount       int
	lastStartOfScan int
}

// Feed scans buf (the full prefix observed so far, not just the newly
// arrived chunk) for FF DA markers past whatever was scanned on the
// previous call. It returns the trim offset and ready=true once at least
// two scan markers have been seen; ready is false otherwise, and offset is
// meaningless in that case.
func (s *Scanner) Feed(buf []byte) (offset int, ready bool) {
	// Hold back the final byte: it may be the first half of a marker that
	// straddles this prefix's end and the next Feed's newly appended bytes.
	limit := len(buf) - 1
	for i := s.scanned; i < limit; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xDA {
			s.scanCount++
			s.lastStartOfScan = i
		}
	}
	if limit > s.scanned {
		s.scanned = limit
	}
	if s.scanCount >= 2 {
		return s.lastStartOfScan - 1, true
	}
	return 0, false
}

// Reset clears scanner state, used when a download restarts from scratch
// rather than resuming (a resumed download's saved prefix already carries
// any scans it contained, so Reset is not called for resumption).
func (s *Scanner) Reset() {
	*s = Scanner{}
}
