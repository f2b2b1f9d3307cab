package area_download

import (
	"sync"
	"time"

	"go.uber.org/multierr"

	"offlinetiles/internal/tile"
	"offlinetiles/internal/tile_grid"
)

// Session tracks one area download. It is safe to read while the download runs.
type Session struct {
	ID     string
	Bounds tile_grid.Bounds
	Zoom   tile.ZoomRange
	Total  int

	coords []tile.Coord
	done   chan struct{}

	mu         sync.Mutex
	completed  int
	failed     int
	err        error
	canceled   bool
	startedAt  time.Time
	finishedAt time.Time
}

// Snapshot is a point-in-time copy of a session, shaped for JSON.
type Snapshot struct {
	ID         string     `json:"id"`
	North      float64    `json:"north"`
	South      float64    `json:"south"`
	East       float64    `json:"east"`
	West       float64    `json:"west"`
	MinZoom    int        `json:"min_zoom"`
	MaxZoom    int        `json:"max_zoom"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	Canceled   bool       `json:"canceled"`
	Done       bool       `json:"done"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Coords returns the tiles the session covers, in download order.
func (s *Session) Coords() []tile.Coord {
	return append([]tile.Coord(nil), s.coords...)
}

// Done is closed once the session has finished or was canceled.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Completed counts processed tiles, failed ones included.
func (s *Session) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *Session) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Err combines every per-tile failure of the session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	bound := s.Bounds.Bound()
	snap := Snapshot{
		ID:        s.ID,
		North:     bound.Top(),
		South:     bound.Bottom(),
		East:      bound.Right(),
		West:      bound.Left(),
		MinZoom:   s.Zoom.Min,
		MaxZoom:   s.Zoom.Max,
		Total:     s.Total,
		Completed: s.completed,
		Failed:    s.failed,
		Canceled:  s.canceled,
		Done:      !s.finishedAt.IsZero(),
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	if !s.startedAt.IsZero() {
		started := s.startedAt
		snap.StartedAt = &started
	}
	if !s.finishedAt.IsZero() {
		finished := s.finishedAt
		snap.FinishedAt = &finished
	}
	return snap
}

func (s *Session) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = time.Now().UTC()
}

// record marks one tile processed and returns the new completed count.
func (s *Session) record(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed++
	if err != nil {
		s.failed++
		s.err = multierr.Append(s.err, err)
	}
	return s.completed
}

func (s *Session) finish(canceled bool) {
	s.mu.Lock()
	s.canceled = canceled
	s.finishedAt = time.Now().UTC()
	s.mu.Unlock()

	close(s.done)
}
