// Package roller implements the Segment Roller (component B): it names
// segments monotonically, owns the output directory and the current
// tsmux.Writer, and exposes a pure roll-boundary decision the Ingest
// Pipeline uses to drive begin/end itself (§4.E.3 reference behavior: the
// pipeline owns the roll decision, the Roller is reduced to a Writer plus
// an id counter).
package roller

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/segmentpipe/segmentpipe/internal/rational"
	"github.com/segmentpipe/segmentpipe/internal/storage"
	"github.com/segmentpipe/segmentpipe/internal/tsmux"
)

var segmentNamePattern = regexp.MustCompile(`^(\d{9})\.ts$`)

// FormatID renders a segment id as the nine-digit zero-padded basename,
// e.g. 43 -> "000000043.ts" (§3).
func FormatID(id int) string {
	return fmt.Sprintf("%09d.ts", id)
}

// Roller owns the output directory, the next segment id, and the current
// Writer. It is not safe for concurrent use; the Ingest thread is its sole
// caller (§5). The output directory is accessed through a Sandbox so that
// segment paths (and, indirectly, anything derived from a stream's
// metadata-provided filename hints) can never escape the configured
// recordings directory.
type Roller struct {
	sandbox *storage.Sandbox
	nextID  int
	current *tsmux.Writer
	desc    tsmux.StreamDescriptor
}

// New scans dir for existing NNNNNNNNN.ts files and initializes the id
// counter to one past the maximum parsed id (starting from 1 if none
// exist), making restarts idempotent against the local directory
// (testable property 2).
func New(dir string) (*Roller, error) {
	sandbox, err := storage.NewSandbox(dir)
	if err != nil {
		return nil, fmt.Errorf("creating output sandbox %s: %w", dir, err)
	}

	entries, err := sandbox.List(".")
	if err != nil {
		return nil, fmt.Errorf("reading output directory %s: %w", dir, err)
	}

	maxID := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}
	}

	return &Roller{sandbox: sandbox, nextID: maxID + 1}, nil
}

// Path returns the local filesystem path for the given segment id.
func (r *Roller) Path(id int) string {
	path, err := r.sandbox.ResolvePath(FormatID(id))
	if err != nil {
		// FormatID always produces a bare, sandbox-safe basename; a
		// resolution failure here would indicate a Sandbox bug, not a
		// caller error.
		panic(fmt.Sprintf("roller: resolving segment path: %v", err))
	}
	return path
}

// Begin opens and begins the first segment of the run, returning its id.
func (r *Roller) Begin(desc tsmux.StreamDescriptor) (int, error) {
	r.desc = desc
	id := r.nextID
	r.nextID++

	w, err := tsmux.Open(r.Path(id))
	if err != nil {
		return 0, err
	}
	if err := w.Begin(desc); err != nil {
		return 0, err
	}
	r.current = w
	return id, nil
}

// Current returns the Writer for the in-progress segment.
func (r *Roller) Current() *tsmux.Writer { return r.current }

// Roll finalizes the current segment and opens the next one with the same
// stream descriptor, matching step 3 of the roll policy (§4.B): finalize,
// increment the id, open, and begin the replacement before returning.
func (r *Roller) Roll() (finishedResult tsmux.Result, newID int, err error) {
	finishedResult, err = r.current.End()
	if err != nil {
		return tsmux.Result{}, 0, fmt.Errorf("finalizing segment: %w", err)
	}

	newID = r.nextID
	r.nextID++

	w, err := tsmux.Open(r.Path(newID))
	if err != nil {
		return finishedResult, 0, err
	}
	if err := w.Begin(r.desc); err != nil {
		return finishedResult, 0, err
	}
	r.current = w
	return finishedResult, newID, nil
}

// End finalizes the in-progress segment without starting a replacement
// (demuxer EOF, §4.E.4). The trailing partial segment is not indexed or
// uploaded by the caller per §9.3.
func (r *Roller) End() (tsmux.Result, error) {
	return r.current.End()
}

// ShouldRoll implements the pure roll-boundary decision (§4.B, testable
// property 3): elapsed is computed as an exact rational number of seconds
// between startPTS and currentPTS in timebase units, and the tie-break uses
// >= so a segment's maximal prefix satisfies elapsed < rollSeconds — the
// packet that first reaches the threshold belongs to the new segment
// (§9.2).
func ShouldRoll(startPTS, currentPTS int64, timebase rational.Rational, rollSeconds time.Duration) bool {
	delta := currentPTS - startPTS
	elapsed := timebase.Mul(delta)
	threshold := rational.New(rollSeconds.Milliseconds(), 1000)
	return elapsed.Compare(threshold) >= 0
}
