// Package views derives what the read receipt views show from the readstore
// state. Nothing here draws anything: views get plain structs to render.
package views

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/victorivanov/readreceipts/internal/models"
	"github.com/victorivanov/readreceipts/internal/readstore"
)

// DefaultMinVisibleDuration is how long a post must stay on screen before its
// read count is fetched.
const DefaultMinVisibleDuration = 500 * time.Millisecond

// IndicatorProps are the inputs of the inline read indicator of one post.
type IndicatorProps struct {
	PostID    string
	ReadCount int
}

// IndicatorView is what the inline indicator displays.
type IndicatorView struct {
	Label     string
	AriaLabel string
}

// SelectIndicatorProps derives the indicator props of postID from state.
func SelectIndicatorProps(state readstore.State, postID string) IndicatorProps {
	return IndicatorProps{PostID: postID, ReadCount: state.ReadCount(postID)}
}

// Render returns the indicator view, or false when nothing should be shown.
func (p IndicatorProps) Render() (IndicatorView, bool) {
	if p.ReadCount <= 0 {
		return IndicatorView{}, false
	}
	if p.ReadCount == 1 {
		return IndicatorView{Label: "1 read", AriaLabel: "1 person has read this message"}, true
	}
	return IndicatorView{
		Label:     fmt.Sprintf("%d read", p.ReadCount),
		AriaLabel: fmt.Sprintf("%d people have read this message", p.ReadCount),
	}, true
}

// StateSource is a readable, observable store. *readstore.Store implements it.
type StateSource interface {
	State() readstore.State
	Subscribe(fn func(readstore.State)) func()
}

// CountFetcher loads a post's read count into the store.
// *actions.ReadReceipts implements it.
type CountFetcher interface {
	FetchReadReceiptsCount(ctx context.Context, postID string) (*models.ReadReceiptsCount, error)
}

// VisibilityTrigger calls fn once, after the watched item has been visible
// for a minimum duration. Hiding the item earlier cancels the pending call;
// showing it again starts a new wait.
type VisibilityTrigger struct {
	scheduler *Scheduler
	delay     time.Duration
	fn        func()

	mu      sync.Mutex
	pending *Token
	fired   bool
	closed  bool
}

// NewVisibilityTrigger creates a trigger that runs fn after delay of
// continuous visibility.
func NewVisibilityTrigger(scheduler *Scheduler, delay time.Duration, fn func()) *VisibilityTrigger {
	return &VisibilityTrigger{scheduler: scheduler, delay: delay, fn: fn}
}

// Visible starts the visibility wait unless one is pending or fn already ran.
func (v *VisibilityTrigger) Visible() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fired || v.closed || v.pending != nil {
		return
	}
	v.pending = v.scheduler.Schedule(v.delay, v.fire)
}

// Hidden cancels a pending wait.
func (v *VisibilityTrigger) Hidden() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelLocked()
}

// Close cancels a pending wait and disables the trigger.
func (v *VisibilityTrigger) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.cancelLocked()
}

// Fired reports whether fn has run.
func (v *VisibilityTrigger) Fired() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fired
}

func (v *VisibilityTrigger) cancelLocked() {
	if v.pending != nil {
		v.pending.Cancel()
		v.pending = nil
	}
}

func (v *VisibilityTrigger) fire() {
	v.mu.Lock()
	if v.fired || v.closed {
		v.mu.Unlock()
		return
	}
	v.fired = true
	v.pending = nil
	v.mu.Unlock()

	v.fn()
}

// IndicatorOption configures an Indicator.
type IndicatorOption func(*Indicator)

// WithMinVisibleDuration sets how long the post must be visible before the
// count is fetched.
func WithMinVisibleDuration(d time.Duration) IndicatorOption {
	return func(i *Indicator) {
		if d > 0 {
			i.minVisible = d
		}
	}
}

// WithScheduler sets the scheduler used for the visibility wait.
func WithScheduler(s *Scheduler) IndicatorOption {
	return func(i *Indicator) { i.scheduler = s }
}

// WithLogger sets the logger used for fetch failures.
func WithLogger(l *slog.Logger) IndicatorOption {
	return func(i *Indicator) { i.logger = l }
}

// Indicator is the inline read indicator of one post bound to a store.
type Indicator struct {
	postID     string
	store      StateSource
	fetcher    CountFetcher
	scheduler  *Scheduler
	minVisible time.Duration
	logger     *slog.Logger
	trigger    *VisibilityTrigger

	mu    sync.Mutex
	unsub []func()
}

// NewIndicator binds the indicator of postID to store. The count is fetched
// through fetcher once the post has been visible long enough.
func NewIndicator(store StateSource, fetcher CountFetcher, postID string, opts ...IndicatorOption) *Indicator {
	i := &Indicator{
		postID:     postID,
		store:      store,
		fetcher:    fetcher,
		minVisible: DefaultMinVisibleDuration,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.scheduler == nil {
		i.scheduler = NewScheduler(nil)
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	i.trigger = NewVisibilityTrigger(i.scheduler, i.minVisible, i.fetch)
	return i
}

// Props returns the current props of the indicator.
func (i *Indicator) Props() IndicatorProps {
	return SelectIndicatorProps(i.store.State(), i.postID)
}

// Render returns the current view, or false when nothing should be shown.
func (i *Indicator) Render() (IndicatorView, bool) {
	return i.Props().Render()
}

// OnChange calls fn with new props whenever this post's read count changes.
// Subscriptions end on Close or when the returned func is called.
func (i *Indicator) OnChange(fn func(IndicatorProps)) func() {
	var (
		mu   sync.Mutex
		last = i.Props()
	)
	unsub := i.store.Subscribe(func(state readstore.State) {
		props := SelectIndicatorProps(state, i.postID)
		mu.Lock()
		if props == last {
			mu.Unlock()
			return
		}
		last = props
		mu.Unlock()
		fn(props)
	})

	i.mu.Lock()
	i.unsub = append(i.unsub, unsub)
	i.mu.Unlock()
	return unsub
}

// Visible marks the post as on screen.
func (i *Indicator) Visible() { i.trigger.Visible() }

// Hidden marks the post as off screen.
func (i *Indicator) Hidden() { i.trigger.Hidden() }

// Close unmounts the indicator: a pending fetch is cancelled and change
// subscriptions end.
func (i *Indicator) Close() {
	i.trigger.Close()

	i.mu.Lock()
	unsub := i.unsub
	i.unsub = nil
	i.mu.Unlock()
	for _, fn := range unsub {
		fn()
	}
}

func (i *Indicator) fetch() {
	if _, err := i.fetcher.FetchReadReceiptsCount(context.Background(), i.postID); err != nil {
		i.logger.Debug("fetching read count failed", "postID", i.postID, "error", err)
	}
}
