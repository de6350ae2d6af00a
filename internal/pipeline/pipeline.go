// Package pipeline owns the derived rasters: when each one regenerates and
// how it is captured. Every artifact carries an explicit lifecycle state
// machine and a fingerprint of the inputs that produced its last good
// raster. Regeneration is demand-driven off the change bus, debounced by a
// settle delay, and limited to one capture in flight per artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/SeanSwan/reportflow/internal/bus"
	"github.com/SeanSwan/reportflow/internal/models"
	"github.com/SeanSwan/reportflow/internal/state"
)

// ErrArtifactNotReady reports an artifact that settled somewhere other than
// READY while a caller was waiting on it.
var ErrArtifactNotReady = errors.New("artifact not ready")

// DefaultSettleDelay is how long the pipeline waits after a triggering
// change before capturing, so a burst of edits produces one capture of the
// settled document.
const DefaultSettleDelay = 300 * time.Millisecond

const awaitPollInterval = 20 * time.Millisecond

const (
	eventGenerate   = "generate"
	eventSucceed    = "succeed"
	eventFail       = "fail"
	eventInvalidate = "invalidate"
)

func newLifecycle() *fsm.FSM {
	return fsm.NewFSM(
		string(models.ArtifactMissing),
		fsm.Events{
			{
				Name: eventGenerate,
				Src: []string{
					string(models.ArtifactMissing),
					string(models.ArtifactStale),
					string(models.ArtifactFailed),
				},
				Dst: string(models.ArtifactGenerating),
			},
			{Name: eventSucceed, Src: []string{string(models.ArtifactGenerating)}, Dst: string(models.ArtifactReady)},
			{Name: eventFail, Src: []string{string(models.ArtifactGenerating)}, Dst: string(models.ArtifactFailed)},
			{Name: eventInvalidate, Src: []string{string(models.ArtifactReady)}, Dst: string(models.ArtifactStale)},
		},
		fsm.Callbacks{},
	)
}

// CaptureFunc produces a fresh raster from the current canonical state.
type CaptureFunc func(ctx context.Context, s *state.ReportState) (*image.RGBA, error)

// StoreFunc receives a successful capture together with its fingerprint
// stamp. A store hook owns pushing the raster into canonical state and
// announcing it there; artifacts without one are announced by the pipeline
// on their Announce field topic.
type StoreFunc func(img image.Image, stamp string)

// Artifact declares one derived raster: the fields whose changes invalidate
// it, the capture that rebuilds it, and how its completion is announced.
type Artifact struct {
	ID       models.ArtifactID
	Inputs   []models.FieldName
	Announce models.FieldName
	Capture  CaptureFunc
	Store    StoreFunc
}

type artifact struct {
	spec Artifact

	mu          sync.Mutex
	life        *fsm.FSM
	fingerprint string
	raster      *image.RGBA
	lastErr     error
	attempts    int
	inFlight    bool
	pending     bool
	scheduled   bool
	timer       *time.Timer
}

// statusLocked builds the bus announcement for the artifact's current state.
// Callers must hold a.mu.
func (a *artifact) statusLocked() models.ArtifactChanged {
	ev := models.ArtifactChanged{
		Artifact:    a.spec.ID,
		State:       models.ArtifactState(a.life.Current()),
		Fingerprint: a.fingerprint,
	}
	if ev.State == models.ArtifactFailed && a.lastErr != nil {
		ev.Err = a.lastErr.Error()
	}
	return ev
}

// Option adjusts pipeline construction.
type Option func(*Pipeline)

// WithSettleDelay overrides the capture settle delay. Tests use very small
// windows.
func WithSettleDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.settle = d }
}

// Pipeline schedules and runs artifact captures.
type Pipeline struct {
	ctx    context.Context
	state  *state.ReportState
	bus    *bus.Bus
	logger *slog.Logger
	settle time.Duration

	wg sync.WaitGroup

	mu        sync.Mutex
	order     []models.ArtifactID
	artifacts map[models.ArtifactID]*artifact
	unsubs    []func()
}

// New returns a pipeline bound to the session's state and bus. ctx bounds
// capture work; it should outlive the session.
func New(ctx context.Context, st *state.ReportState, b *bus.Bus, logger *slog.Logger, options ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		ctx:       ctx,
		state:     st,
		bus:       b,
		logger:    logger,
		settle:    DefaultSettleDelay,
		artifacts: make(map[models.ArtifactID]*artifact),
	}
	for _, opt := range options {
		opt(p)
	}

	unsub := b.Subscribe(bus.TopicRegenerate, func(e bus.Event) {
		req, _ := e.Payload.(models.RegenerateRequest)
		p.regenerate(req.Artifact)
	})
	p.unsubs = append(p.unsubs, unsub)
	return p
}

// Register adds one artifact and starts watching its input fields.
func (p *Pipeline) Register(spec Artifact) error {
	if spec.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	if spec.Capture == nil {
		return fmt.Errorf("artifact %s has no capture function", spec.ID)
	}

	a := &artifact{spec: spec, life: newLifecycle()}

	p.mu.Lock()
	if _, exists := p.artifacts[spec.ID]; exists {
		p.mu.Unlock()
		return fmt.Errorf("artifact %s is already registered", spec.ID)
	}
	p.artifacts[spec.ID] = a
	p.order = append(p.order, spec.ID)
	for _, field := range spec.Inputs {
		unsub := p.bus.Subscribe(bus.TopicFieldChanged(field), func(bus.Event) {
			p.trigger(a)
		})
		p.unsubs = append(p.unsubs, unsub)
	}
	p.mu.Unlock()
	return nil
}

// trigger reacts to one qualifying change. A READY artifact whose stored
// fingerprint still matches the recomputed one is left alone; a mismatch
// moves it to STALE and arms the settle timer. Changes landing mid-capture
// coalesce into a single follow-up pass.
func (p *Pipeline) trigger(a *artifact) {
	fp, fpErr := Fingerprint(p.state, a.spec.Inputs)
	if fpErr != nil {
		p.logger.Error("failed to fingerprint artifact inputs",
			"artifact", a.spec.ID, "error", fpErr)
	}

	var announce *models.ArtifactChanged

	a.mu.Lock()
	if a.inFlight {
		a.pending = true
		a.mu.Unlock()
		return
	}
	if a.life.Current() == string(models.ArtifactReady) {
		if fpErr == nil && fp == a.fingerprint {
			a.mu.Unlock()
			return
		}
		if err := a.life.Event(context.Background(), eventInvalidate); err != nil {
			p.logger.Error("artifact refused invalidation",
				"artifact", a.spec.ID, "error", err)
			a.mu.Unlock()
			return
		}
		ev := a.statusLocked()
		announce = &ev
	}
	p.scheduleLocked(a)
	a.mu.Unlock()

	if announce != nil {
		p.bus.Publish(bus.TopicArtifact, *announce)
	}
}

// scheduleLocked arms or extends the settle timer. Callers must hold a.mu.
func (p *Pipeline) scheduleLocked(a *artifact) {
	a.scheduled = true
	if a.timer == nil {
		a.timer = time.AfterFunc(p.settle, func() { p.runPass(a) })
		return
	}
	a.timer.Reset(p.settle)
}

// runPass fires when the settle timer expires: it moves the artifact to
// GENERATING and hands the capture to a background goroutine. At most one
// pass per artifact is in flight.
func (p *Pipeline) runPass(a *artifact) {
	a.mu.Lock()
	a.scheduled = false
	if a.inFlight {
		a.pending = true
		a.mu.Unlock()
		return
	}
	if a.life.Current() == string(models.ArtifactReady) {
		a.mu.Unlock()
		return
	}
	if err := a.life.Event(context.Background(), eventGenerate); err != nil {
		a.mu.Unlock()
		p.logger.Error("artifact pass refused", "artifact", a.spec.ID, "error", err)
		return
	}
	a.inFlight = true
	a.attempts++
	ev := a.statusLocked()
	a.mu.Unlock()

	p.bus.Publish(bus.TopicArtifact, ev)

	p.wg.Add(1)
	go p.capture(a)
}

// capture runs one GENERATING pass. The fingerprint is computed immediately
// before the capture so the stamp names the state the raster was built
// from; a change racing past the stamp shows up as a mismatch on the next
// trigger and regenerates.
func (p *Pipeline) capture(a *artifact) {
	defer p.wg.Done()

	fp, err := Fingerprint(p.state, a.spec.Inputs)
	var img *image.RGBA
	if err == nil {
		img, err = a.spec.Capture(p.ctx, p.state)
	}

	var store StoreFunc
	a.mu.Lock()
	if err != nil {
		a.lastErr = err
		if evErr := a.life.Event(context.Background(), eventFail); evErr != nil {
			p.logger.Error("artifact refused failure transition",
				"artifact", a.spec.ID, "error", evErr)
		}
	} else {
		a.raster = img
		a.fingerprint = fp
		a.lastErr = nil
		if evErr := a.life.Event(context.Background(), eventSucceed); evErr != nil {
			p.logger.Error("artifact refused success transition",
				"artifact", a.spec.ID, "error", evErr)
		}
		store = a.spec.Store
	}
	ev := a.statusLocked()
	a.mu.Unlock()

	if err != nil {
		p.logger.Warn("artifact capture failed, keeping previous raster",
			"artifact", a.spec.ID, "error", err)
	} else if store != nil {
		store(img, fp)
	} else if a.spec.Announce != "" {
		p.bus.Publish(bus.TopicFieldChanged(a.spec.Announce),
			models.FieldChanged{Field: a.spec.Announce, At: time.Now()})
	}
	p.bus.Publish(bus.TopicArtifact, ev)

	a.mu.Lock()
	a.inFlight = false
	rerun := a.pending
	a.pending = false
	a.mu.Unlock()
	if rerun {
		p.trigger(a)
	}
}

func (p *Pipeline) lookup(id models.ArtifactID) (*artifact, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.artifacts[id]
	return a, ok
}

// regenerate schedules a pass for one artifact, or for every artifact when
// id is empty. READY artifacts with a matching fingerprint stay untouched.
func (p *Pipeline) regenerate(id models.ArtifactID) {
	if id != "" {
		if a, ok := p.lookup(id); ok {
			p.trigger(a)
		}
		return
	}
	p.mu.Lock()
	order := make([]models.ArtifactID, len(p.order))
	copy(order, p.order)
	p.mu.Unlock()
	for _, each := range order {
		if a, ok := p.lookup(each); ok {
			p.trigger(a)
		}
	}
}

// RegenerateAll schedules a pass over every registered artifact.
func (p *Pipeline) RegenerateAll() {
	p.regenerate("")
}

// Retry asks for a fresh pass over one artifact, typically after a FAILED
// capture.
func (p *Pipeline) Retry(id models.ArtifactID) error {
	a, ok := p.lookup(id)
	if !ok {
		return fmt.Errorf("unknown artifact %q", id)
	}
	p.trigger(a)
	return nil
}

// Artifact returns a status snapshot for one artifact.
func (p *Pipeline) Artifact(id models.ArtifactID) (models.ArtifactStatus, bool) {
	a, ok := p.lookup(id)
	if !ok {
		return models.ArtifactStatus{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st := models.ArtifactStatus{
		Artifact:    a.spec.ID,
		State:       models.ArtifactState(a.life.Current()),
		Fingerprint: a.fingerprint,
		Attempts:    a.attempts,
	}
	if a.lastErr != nil {
		st.Err = a.lastErr.Error()
	}
	return st, true
}

// Statuses returns every artifact's status in registration order.
func (p *Pipeline) Statuses() []models.ArtifactStatus {
	p.mu.Lock()
	order := make([]models.ArtifactID, len(p.order))
	copy(order, p.order)
	p.mu.Unlock()

	out := make([]models.ArtifactStatus, 0, len(order))
	for _, id := range order {
		if st, ok := p.Artifact(id); ok {
			out = append(out, st)
		}
	}
	return out
}

// Raster returns the last good raster and its fingerprint stamp. A FAILED
// artifact still serves the raster from its last successful pass.
func (p *Pipeline) Raster(id models.ArtifactID) (*image.RGBA, string, bool) {
	a, ok := p.lookup(id)
	if !ok {
		return nil, "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.raster, a.fingerprint, a.raster != nil
}

// AwaitReady blocks until the artifact reaches READY, its pipeline settles
// in FAILED, or ctx expires. The headless export worker uses it after
// requesting regeneration.
func (p *Pipeline) AwaitReady(ctx context.Context, id models.ArtifactID) error {
	a, ok := p.lookup(id)
	if !ok {
		return fmt.Errorf("unknown artifact %q", id)
	}
	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()
	for {
		a.mu.Lock()
		current := a.life.Current()
		settled := !a.inFlight && !a.pending && !a.scheduled
		lastErr := a.lastErr
		a.mu.Unlock()

		switch {
		case current == string(models.ArtifactReady):
			return nil
		case current == string(models.ArtifactFailed) && settled:
			return fmt.Errorf("%w: %s failed: %w", ErrArtifactNotReady, id, lastErr)
		case current == string(models.ArtifactMissing) && settled:
			return fmt.Errorf("%w: %s has no pass scheduled", ErrArtifactNotReady, id)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close detaches the pipeline from the bus, stops pending settle timers,
// and waits for in-flight captures to finish. Captures are never cancelled
// mid-pass.
func (p *Pipeline) Close() {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	arts := make([]*artifact, 0, len(p.artifacts))
	for _, a := range p.artifacts {
		arts = append(arts, a)
	}
	p.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, a := range arts {
		a.mu.Lock()
		if a.timer != nil {
			a.timer.Stop()
		}
		a.scheduled = false
		a.mu.Unlock()
	}
	p.wg.Wait()
}
