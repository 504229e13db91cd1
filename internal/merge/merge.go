// Package merge implements a three-way text merge for page content.
//
// The merge is a pure function of its three inputs: the common ancestor,
// the already-committed side ("other") and the incoming side ("local").
// Changes against the ancestor are computed per side as line hunks; hunks
// touched by only one side are applied, identical hunks are applied once
// and overlapping differing hunks become a conflict block delimited by
// the usual markers.
package merge

import (
	"bytes"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Conflict markers. The incoming side appears first.
const (
	StartMarker = "<<<<<<< local"
	MidMarker   = "======="
	EndMarker   = ">>>>>>> other"
)

// Outcome classifies a merge result.
type Outcome int

const (
	// OutcomeClean means both sides were reconciled without conflict.
	OutcomeClean Outcome = iota
	// OutcomeConflict means the result contains conflict blocks.
	OutcomeConflict
	// OutcomeBinary means at least one input is binary and no merge was
	// attempted; Data is nil.
	OutcomeBinary
)

// Result is the outcome of a three-way merge.
type Result struct {
	Outcome Outcome
	Data    []byte
}

// binaryProbeLen bounds how far IsBinary looks for a NUL byte.
const binaryProbeLen = 8000

// IsBinary reports whether data looks like binary content, using the
// NUL-byte heuristic revision control tools use.
func IsBinary(data []byte) bool {
	probe := data
	if len(probe) > binaryProbeLen {
		probe = probe[:binaryProbeLen]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

// hunk is a single change of one side against the base: the base lines in
// [baseStart, baseEnd) are replaced by lines. An insertion has
// baseStart == baseEnd.
type hunk struct {
	baseStart int
	baseEnd   int
	lines     []string
}

// Merge performs a three-way merge of newline-delimited text. base is the
// common ancestor, theirs the committed side, mine the incoming side.
func Merge(base, theirs, mine []byte) Result {
	if IsBinary(base) || IsBinary(theirs) || IsBinary(mine) {
		return Result{Outcome: OutcomeBinary}
	}

	baseLines := splitLines(string(base))
	mineHunks := diffHunks(string(base), string(mine))
	theirHunks := diffHunks(string(base), string(theirs))

	var out []string
	conflicted := false
	pos := 0 // next unemitted base line
	im, it := 0, 0

	for im < len(mineHunks) || it < len(theirHunks) {
		var m, t *hunk
		if im < len(mineHunks) {
			m = &mineHunks[im]
		}
		if it < len(theirHunks) {
			t = &theirHunks[it]
		}

		if m != nil && t != nil && hunksCollide(*m, *t) {
			// Absorb every hunk from either side that transitively
			// overlaps the region.
			lo := min(m.baseStart, t.baseStart)
			hi := max(m.baseEnd, t.baseEnd)
			am, at := im+1, it+1
			for {
				grown := false
				for am < len(mineHunks) && regionAbsorbs(lo, hi, mineHunks[am]) {
					hi = max(hi, mineHunks[am].baseEnd)
					am++
					grown = true
				}
				for at < len(theirHunks) && regionAbsorbs(lo, hi, theirHunks[at]) {
					hi = max(hi, theirHunks[at].baseEnd)
					at++
					grown = true
				}
				if !grown {
					break
				}
			}
			out = append(out, baseLines[pos:lo]...)
			mineRegion := applyRegion(baseLines, lo, hi, mineHunks[im:am])
			theirRegion := applyRegion(baseLines, lo, hi, theirHunks[it:at])
			if linesEqual(mineRegion, theirRegion) {
				out = append(out, mineRegion...)
			} else {
				conflicted = true
				out = append(out, StartMarker+"\n")
				out = append(out, mineRegion...)
				out = append(out, MidMarker+"\n")
				out = append(out, theirRegion...)
				out = append(out, EndMarker+"\n")
			}
			pos = hi
			im, it = am, at
			continue
		}

		// No collision: apply whichever side's hunk comes first in the
		// base; ties go to the incoming side.
		var h *hunk
		if t == nil || (m != nil && m.baseStart <= t.baseStart) {
			h = m
			im++
		} else {
			h = t
			it++
		}
		out = append(out, baseLines[pos:h.baseStart]...)
		out = append(out, h.lines...)
		pos = h.baseEnd
	}
	out = append(out, baseLines[pos:]...)

	res := Result{Outcome: OutcomeClean, Data: []byte(strings.Join(out, ""))}
	if conflicted {
		res.Outcome = OutcomeConflict
	}
	return res
}

// hunksCollide reports whether two hunks contend for the same base region.
// Touching-but-disjoint intervals do not collide, so edits on adjacent
// lines merge cleanly; two insertions at the same point do.
func hunksCollide(a, b hunk) bool {
	if a.baseStart < b.baseEnd && b.baseStart < a.baseEnd {
		return true
	}
	return a.baseStart == a.baseEnd && b.baseStart == b.baseEnd &&
		a.baseStart == b.baseStart
}

// regionAbsorbs reports whether a hunk belongs to the conflict region
// [lo, hi): it overlaps it, or it is an insertion strictly inside it.
func regionAbsorbs(lo, hi int, h hunk) bool {
	if h.baseStart < hi && lo < h.baseEnd {
		return true
	}
	return h.baseStart == h.baseEnd && lo < h.baseStart && h.baseStart < hi
}

// applyRegion reconstructs one side's text for base region [lo, hi) by
// splicing that side's hunks into the base lines.
func applyRegion(baseLines []string, lo, hi int, hunks []hunk) []string {
	var out []string
	pos := lo
	for _, h := range hunks {
		start := max(h.baseStart, lo)
		out = append(out, baseLines[pos:start]...)
		out = append(out, h.lines...)
		pos = min(h.baseEnd, hi)
		if pos < start {
			pos = start
		}
	}
	out = append(out, baseLines[pos:hi]...)
	return out
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// splitLines splits text into lines keeping the newline terminators; a
// final line without one is kept as-is.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// diffHunks computes the line hunks of side against base.
func diffHunks(base, side string) []hunk {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // determinism over speed
	c1, c2, lineArray := dmp.DiffLinesToChars(base, side)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lineArray)

	var hunks []hunk
	var cur *hunk
	basePos := 0
	for _, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			cur = nil
			basePos += len(lines)
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				hunks = append(hunks, hunk{baseStart: basePos, baseEnd: basePos})
				cur = &hunks[len(hunks)-1]
			}
			basePos += len(lines)
			cur.baseEnd = basePos
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				hunks = append(hunks, hunk{baseStart: basePos, baseEnd: basePos})
				cur = &hunks[len(hunks)-1]
			}
			cur.lines = append(cur.lines, lines...)
		}
	}
	return hunks
}
