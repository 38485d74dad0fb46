package export

import (
	"sync"

	"github.com/gogpu/gg"
	"github.com/google/uuid"
)

// Surface is an offscreen drawing target attached to a Stage for the
// duration of one export.
type Surface struct {
	ID string
	dc *gg.Context
}

// Context returns the drawing context.
func (s *Surface) Context() *gg.Context { return s.dc }

// Stage tracks every attached offscreen surface. Exports attach one surface
// each and always detach it before returning.
type Stage struct {
	mu       sync.Mutex
	surfaces map[string]*Surface
}

// NewStage creates an empty stage.
func NewStage() *Stage {
	return &Stage{surfaces: make(map[string]*Surface)}
}

// Attach allocates a w x h surface and registers it.
func (s *Stage) Attach(w, h int) *Surface {
	sf := &Surface{ID: uuid.NewString(), dc: gg.NewContext(w, h)}
	s.mu.Lock()
	s.surfaces[sf.ID] = sf
	s.mu.Unlock()
	return sf
}

// Detach unregisters and closes a surface. Detaching twice is a no-op.
func (s *Stage) Detach(sf *Surface) {
	if sf == nil {
		return
	}
	s.mu.Lock()
	_, ok := s.surfaces[sf.ID]
	delete(s.surfaces, sf.ID)
	s.mu.Unlock()
	if ok {
		_ = sf.dc.Close()
	}
}

// Len returns the number of attached surfaces.
func (s *Stage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.surfaces)
}
