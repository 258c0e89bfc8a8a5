package centroid

import (
	"sync"

	"github.com/yyyoichi/studygraph/internal/geom"
)

// Accumulator keeps a running coordinate sum and sample count.
type Accumulator struct {
	sumX, sumY float64
	count      int
	mu         sync.Mutex
}

func (s *Accumulator) Add(p geom.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sumX += p.X
	s.sumY += p.Y
	s.count += 1
}

// Point returns the mean of all added points. ok is false until the first
// point arrives.
func (s *Accumulator) Point() (p geom.Point, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return geom.Point{}, false
	}
	return geom.Point{X: s.sumX / float64(s.count), Y: s.sumY / float64(s.count)}, true
}

func (s *Accumulator) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Accumulator) Sum() (x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumX, s.sumY
}

func (s *Accumulator) Initialize(sumX, sumY float64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sumX = sumX
	s.sumY = sumY
	s.count = count
}
