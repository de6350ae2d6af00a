package stages

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/SeanSwan/reportflow/internal/bus"
	"github.com/SeanSwan/reportflow/internal/models"
)

// DocumentView is the completeness surface the sequencer gates on.
type DocumentView interface {
	FieldComplete(models.FieldName) bool
}

// ErrStageLocked marks a transition refused because the target stage's
// required fields are incomplete, as opposed to an unknown stage or a roster
// edge.
var ErrStageLocked = errors.New("stage is locked")

// NavigationError is the typed rejection of an impossible stage transition.
// The wizard keeps the user on the current stage when it sees one.
type NavigationError struct {
	From   models.StageID
	To     models.StageID
	Reason string

	cause error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s: %s", e.From, e.To, e.Reason)
}

func (e *NavigationError) Unwrap() error { return e.cause }

// Sequencer walks an ordered stage roster. Before committing any permitted
// transition it publishes "navigation requested" and waits for every
// subscriber to flush pending edits into canonical state; only then does the
// current stage change. A forbidden transition is a strict no-op: nothing is
// published and nothing changes.
type Sequencer struct {
	roster []Stage
	index  map[models.StageID]int
	doc    DocumentView
	bus    *bus.Bus
	logger *slog.Logger

	mu  sync.Mutex
	pos int
}

// NewSequencer validates the roster and starts at its first stage.
func NewSequencer(roster []Stage, doc DocumentView, b *bus.Bus, logger *slog.Logger) (*Sequencer, error) {
	if err := ValidateRoster(roster); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	idx := make(map[models.StageID]int, len(roster))
	for i, st := range roster {
		idx[st.ID] = i
	}
	return &Sequencer{
		roster: append([]Stage(nil), roster...),
		index:  idx,
		doc:    doc,
		bus:    b,
		logger: logger,
	}, nil
}

// Current returns the active stage.
func (s *Sequencer) Current() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster[s.pos]
}

// Roster returns a copy of the stage order.
func (s *Sequencer) Roster() []Stage {
	return append([]Stage(nil), s.roster...)
}

// requiredFields returns the stage's prerequisites. The terminal export stage
// always demands a selected client, narrative content, and media, regardless
// of what a roster overlay declared.
func (s *Sequencer) requiredFields(st Stage) []models.FieldName {
	req := append([]models.FieldName(nil), st.Requires...)
	if st.ID == models.StageExport {
		for _, f := range []models.FieldName{models.FieldClient, models.FieldDailyEntries, models.FieldMediaSet} {
			found := false
			for _, have := range req {
				if have == f {
					found = true
					break
				}
			}
			if !found {
				req = append(req, f)
			}
		}
	}
	return req
}

func (s *Sequencer) missingFields(st Stage) []models.FieldName {
	var missing []models.FieldName
	for _, f := range s.requiredFields(st) {
		if !s.doc.FieldComplete(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Reachable reports whether the stage's predicate currently holds.
func (s *Sequencer) Reachable(id models.StageID) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	return len(s.missingFields(s.roster[i])) == 0
}

// CanAdvance reports whether the next stage exists and is reachable.
func (s *Sequencer) CanAdvance() bool {
	s.mu.Lock()
	pos := s.pos
	s.mu.Unlock()
	if pos+1 >= len(s.roster) {
		return false
	}
	return s.Reachable(s.roster[pos+1].ID)
}

// Advance moves to the next stage. When CanAdvance is false this is a no-op
// returning a *NavigationError.
func (s *Sequencer) Advance() error {
	s.mu.Lock()
	pos := s.pos
	cur := s.roster[pos]
	s.mu.Unlock()

	if pos+1 >= len(s.roster) {
		return &NavigationError{From: cur.ID, To: cur.ID, Reason: "already at the final stage"}
	}
	next := s.roster[pos+1]
	if missing := s.missingFields(next); len(missing) > 0 {
		return &NavigationError{From: cur.ID, To: next.ID, Reason: missingReason(missing), cause: ErrStageLocked}
	}
	s.commit(cur.ID, next.ID, pos+1)
	return nil
}

// Retreat moves to the previous stage. Predicates gate forward reachability
// only, so retreating is always permitted above the first stage. Pending
// edits are still flushed before the transition commits.
func (s *Sequencer) Retreat() error {
	s.mu.Lock()
	pos := s.pos
	cur := s.roster[pos]
	s.mu.Unlock()

	if pos == 0 {
		return &NavigationError{From: cur.ID, To: cur.ID, Reason: "already at the first stage"}
	}
	s.commit(cur.ID, s.roster[pos-1].ID, pos-1)
	return nil
}

// JumpTo moves directly to the named stage if its predicate holds. Jumping to
// the current stage is a no-op.
func (s *Sequencer) JumpTo(id models.StageID) error {
	s.mu.Lock()
	pos := s.pos
	cur := s.roster[pos]
	s.mu.Unlock()

	target, ok := s.index[id]
	if !ok {
		return &NavigationError{From: cur.ID, To: id, Reason: "unknown stage"}
	}
	if target == pos {
		return nil
	}
	if missing := s.missingFields(s.roster[target]); len(missing) > 0 {
		return &NavigationError{From: cur.ID, To: id, Reason: missingReason(missing), cause: ErrStageLocked}
	}
	s.commit(cur.ID, id, target)
	return nil
}

// commit publishes the flush signal and, once every subscriber has returned,
// makes the transition visible. Omitting the flush here is the historical
// data-loss bug: a stage's uncommitted edits would be stranded when the
// wizard moved away from it.
func (s *Sequencer) commit(from, to models.StageID, target int) {
	s.bus.Publish(bus.TopicNavigation, models.NavigationRequested{From: from, To: to})
	s.mu.Lock()
	s.pos = target
	s.mu.Unlock()
	s.logger.Info("stage transition", "from", from, "to", to)
}

func missingReason(missing []models.FieldName) string {
	parts := make([]string, len(missing))
	for i, f := range missing {
		parts[i] = string(f)
	}
	return "missing prerequisites: " + strings.Join(parts, ", ")
}
