package downloader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notruri/pahe/internal/types"
)

// PlanSuffix is appended to the output path to name the resume sidecar.
const PlanSuffix = ".plan.json"

// Status is the lifecycle state of one segment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Segment is a contiguous byte range of the output. End is inclusive.
type Segment struct {
	Index    int    `json:"index"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Status   Status `json:"status"`
	Attempts int    `json:"attempts,omitempty"`
}

func (s Segment) Len() int64 { return s.End - s.Start + 1 }

// Plan describes how one file is split for retrieval. It is persisted next
// to the partial output so an interrupted download can resume.
type Plan struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Path           string    `json:"path"`
	TotalSize      int64     `json:"total_size"`
	RangeSupported bool      `json:"range_supported"`
	SegmentCount   int       `json:"segment_count"`
	Segments       []Segment `json:"segments"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newPlanID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// partition splits total bytes into n contiguous segments; the last one
// absorbs the remainder. n is capped at total.
func partition(total int64, n int) []Segment {
	if total <= 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if int64(n) > total {
		n = int(total)
	}
	size := total / int64(n)
	segs := make([]Segment, n)
	for i := range segs {
		start := int64(i) * size
		end := start + size - 1
		if i == n-1 {
			end = total - 1
		}
		segs[i] = Segment{Index: i, Start: start, End: end, Status: StatusPending}
	}
	return segs
}

// validate checks that segments tile [0, TotalSize) in index order.
func (p *Plan) validate() error {
	if len(p.Segments) != p.SegmentCount || p.SegmentCount == 0 {
		return fmt.Errorf("plan %s: segment count %d does not match %d segment(s)", p.ID, p.SegmentCount, len(p.Segments))
	}
	var next int64
	for i, s := range p.Segments {
		if s.Index != i || s.Start != next || s.End < s.Start {
			return fmt.Errorf("plan %s: segment %d is not contiguous", p.ID, i)
		}
		next = s.End + 1
	}
	if next != p.TotalSize {
		return fmt.Errorf("plan %s: segments cover %d of %d bytes", p.ID, next, p.TotalSize)
	}
	return nil
}

func planPath(output string) string {
	return output + PlanSuffix
}

func loadPlan(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// savePlan writes the plan atomically.
func savePlan(path string, p *Plan) error {
	p.UpdatedAt = time.Now().UTC()
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return &types.OutputError{Path: path, Op: "save plan", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &types.OutputError{Path: path, Op: "save plan", Err: err}
	}
	return nil
}

func removePlan(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// arena holds the live segment records, each behind its own lock.
type arena struct {
	slots []slot
}

type slot struct {
	mu  sync.Mutex
	seg Segment
}

func newArena(segs []Segment) *arena {
	a := &arena{slots: make([]slot, len(segs))}
	for i, s := range segs {
		a.slots[i].seg = s
	}
	return a
}

func (a *arena) get(i int) Segment {
	s := &a.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seg
}

func (a *arena) setStatus(i int, st Status) {
	s := &a.slots[i]
	s.mu.Lock()
	s.seg.Status = st
	s.mu.Unlock()
}

func (a *arena) addAttempt(i int) int {
	s := &a.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seg.Attempts++
	return s.seg.Attempts
}

// snapshot copies every segment, locking one slot at a time.
func (a *arena) snapshot() []Segment {
	out := make([]Segment, len(a.slots))
	for i := range a.slots {
		out[i] = a.get(i)
	}
	return out
}

// pending lists segments that still need fetching.
func (a *arena) pending() []int {
	var out []int
	for i := range a.slots {
		if a.get(i).Status != StatusDone {
			out = append(out, i)
		}
	}
	return out
}

// resumable reports whether an existing plan and partial file can continue
// a download of total bytes. Interrupted and failed segments become pending.
func resumable(p *Plan, total int64, outputPath string) bool {
	if p == nil || p.TotalSize != total || !p.RangeSupported {
		return false
	}
	st, err := os.Stat(outputPath)
	if err != nil || st.Size() != total {
		return false
	}
	for i := range p.Segments {
		if p.Segments[i].Status != StatusDone {
			p.Segments[i].Status = StatusPending
		}
	}
	return true
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
