package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"diffusiond/pkg/types"
)

type fakePipeline struct {
	cfg        types.PipelineConfig
	released   int32
	releaseErr error
}

func (p *fakePipeline) Config() types.PipelineConfig { return p.cfg }

func (p *fakePipeline) Release() error {
	atomic.AddInt32(&p.released, 1)
	return p.releaseErr
}

// fakeBuilder counts builds, tracks in-flight concurrency, and can block a
// given model id until the token is cancelled or unblock is closed. With
// holdCancel set, a cancelled build does not return until the channel is
// closed, keeping the drain window open. releaseErr is attached to every
// pipeline the builder produces.
type fakeBuilder struct {
	mu         sync.Mutex
	builds     map[string]int
	failOn     map[string]error
	blockOn    string
	unblock    chan struct{}
	holdCancel chan struct{}
	releaseErr error

	inFlight    int32
	maxInFlight int32

	lastPipe *fakePipeline
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{builds: map[string]int{}, failOn: map[string]error{}}
}

func (b *fakeBuilder) Build(modelID string, tok *CancellationToken) (Pipeline, error) {
	n := atomic.AddInt32(&b.inFlight, 1)
	defer atomic.AddInt32(&b.inFlight, -1)
	for {
		max := atomic.LoadInt32(&b.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&b.maxInFlight, max, n) {
			break
		}
	}

	b.mu.Lock()
	b.builds[modelID]++
	blocked := b.blockOn == modelID
	unblock := b.unblock
	hold := b.holdCancel
	failErr := b.failOn[modelID]
	releaseErr := b.releaseErr
	b.mu.Unlock()

	if blocked {
	wait:
		for {
			if err := tok.CheckCancelled(); err != nil {
				if hold != nil {
					<-hold
				}
				return nil, err
			}
			select {
			case <-unblock:
				break wait
			case <-time.After(time.Millisecond):
			}
		}
	}
	if err := tok.CheckCancelled(); err != nil {
		return nil, err
	}
	if failErr != nil {
		return nil, failErr
	}
	pipe := &fakePipeline{
		cfg:        types.PipelineConfig{ModelID: modelID, Class: "StableDiffusionPipeline"},
		releaseErr: releaseErr,
	}
	b.mu.Lock()
	b.lastPipe = pipe
	b.mu.Unlock()
	return pipe, nil
}

func (b *fakeBuilder) buildCount(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds[id]
}

func newTestLoader(t *testing.T, b PipelineBuilder, pub EventPublisher) *LoaderService {
	t.Helper()
	log := zerolog.Nop()
	states := NewStateManager(log)
	resources := NewResourceManager(nil, log)
	pipelines := NewPipelineManager(log)
	svc, err := NewLoaderService(states, resources, pipelines, b, pub, log)
	if err != nil {
		t.Fatalf("NewLoaderService: %v", err)
	}
	t.Cleanup(svc.close)
	return svc
}

func currentState(svc *LoaderService) ModelState {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.states.Current()
}

func waitForState(t *testing.T, svc *LoaderService, want ModelState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if currentState(svc) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q, still %q", want, currentState(svc))
}

func TestLoadSuccess(t *testing.T) {
	b := newFakeBuilder()
	pub := NewMemoryPublisher()
	svc := newTestLoader(t, b, pub)

	cfg, err := svc.Load(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ModelID != "m1" {
		t.Fatalf("config model id = %q, want m1", cfg.ModelID)
	}
	if st := currentState(svc); st != StateLoaded {
		t.Fatalf("state = %q, want loaded", st)
	}
	svc.mu.Lock()
	id := svc.pipelines.GetModelID()
	loads := svc.loadsTotal
	svc.mu.Unlock()
	if id != "m1" {
		t.Fatalf("resident id = %q, want m1", id)
	}
	if loads != 1 {
		t.Fatalf("loadsTotal = %d, want 1", loads)
	}

	var started, completed bool
	for _, e := range pub.Events() {
		switch e.Name {
		case "load_started":
			started = true
		case "load_completed":
			completed = true
		}
	}
	if !started || !completed {
		t.Fatalf("missing lifecycle events: started=%v completed=%v", started, completed)
	}
}

func TestLoadSameModelFastPath(t *testing.T) {
	b := newFakeBuilder()
	svc := newTestLoader(t, b, nil)

	if _, err := svc.Load(context.Background(), "m1"); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	cfg, err := svc.Load(context.Background(), "m1")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if cfg.ModelID != "m1" {
		t.Fatalf("config model id = %q, want m1", cfg.ModelID)
	}
	if n := b.buildCount("m1"); n != 1 {
		t.Fatalf("builder invoked %d times, want 1", n)
	}
}

func TestLoadDuplicateWhileLoading(t *testing.T) {
	b := newFakeBuilder()
	b.blockOn = "m1"
	b.unblock = make(chan struct{})
	svc := newTestLoader(t, b, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Load(context.Background(), "m1")
		errCh <- err
	}()
	waitForState(t, svc, StateLoading)

	_, err := svc.Load(context.Background(), "m1")
	if !IsDuplicateLoad(err) {
		t.Fatalf("duplicate load error = %v, want duplicate", err)
	}

	close(b.unblock)
	if err := <-errCh; err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if st := currentState(svc); st != StateLoaded {
		t.Fatalf("state = %q, want loaded", st)
	}
}

func TestLoadDifferentModelCancelsInflight(t *testing.T) {
	b := newFakeBuilder()
	b.blockOn = "m1"
	b.unblock = make(chan struct{})
	svc := newTestLoader(t, b, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Load(context.Background(), "m1")
		errCh <- err
	}()
	waitForState(t, svc, StateLoading)

	cfg, err := svc.Load(context.Background(), "m2")
	if err != nil {
		t.Fatalf("Load m2: %v", err)
	}
	if cfg.ModelID != "m2" {
		t.Fatalf("config model id = %q, want m2", cfg.ModelID)
	}
	if err := <-errCh; !IsCancelled(err) {
		t.Fatalf("first Load error = %v, want cancelled", err)
	}

	svc.mu.Lock()
	id := svc.pipelines.GetModelID()
	cancels := svc.cancelsTotal
	svc.mu.Unlock()
	if id != "m2" {
		t.Fatalf("resident id = %q, want m2", id)
	}
	if cancels != 1 {
		t.Fatalf("cancelsTotal = %d, want 1", cancels)
	}
}

func TestUnloadCancelsInflightLoad(t *testing.T) {
	b := newFakeBuilder()
	b.blockOn = "m1"
	b.unblock = make(chan struct{})
	svc := newTestLoader(t, b, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Load(context.Background(), "m1")
		errCh <- err
	}()
	waitForState(t, svc, StateLoading)

	if err := svc.Unload(context.Background()); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if err := <-errCh; !IsCancelled(err) {
		t.Fatalf("Load error = %v, want cancelled", err)
	}
	if st := currentState(svc); st != StateIdle {
		t.Fatalf("state = %q, want idle", st)
	}
	svc.mu.Lock()
	pipe := svc.pipelines.GetPipeline()
	svc.mu.Unlock()
	if pipe != nil {
		t.Fatal("dangling pipeline reference after cancelled load")
	}
}

func TestContextCancellationFlagsToken(t *testing.T) {
	b := newFakeBuilder()
	b.blockOn = "m1"
	b.unblock = make(chan struct{})
	svc := newTestLoader(t, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Load(ctx, "m1")
		errCh <- err
	}()
	waitForState(t, svc, StateLoading)
	cancel()

	if err := <-errCh; !IsCancelled(err) {
		t.Fatalf("Load error = %v, want cancelled", err)
	}
	if st := currentState(svc); st != StateIdle {
		t.Fatalf("state = %q, want idle", st)
	}
}

func TestLoadFailureThenRecovery(t *testing.T) {
	b := newFakeBuilder()
	b.failOn["m1"] = errors.New("no weights")
	svc := newTestLoader(t, b, nil)

	_, err := svc.Load(context.Background(), "m1")
	if !IsConstructionFailed(err) {
		t.Fatalf("Load error = %v, want construction failure", err)
	}
	if st := currentState(svc); st != StateError {
		t.Fatalf("state = %q, want error", st)
	}
	svc.mu.Lock()
	lastErr := svc.lastErr
	svc.mu.Unlock()
	if lastErr == "" {
		t.Fatal("lastErr not recorded after failed load")
	}

	// Error state accepts a fresh load.
	cfg, err := svc.Load(context.Background(), "m2")
	if err != nil {
		t.Fatalf("Load m2 after error: %v", err)
	}
	if cfg.ModelID != "m2" {
		t.Fatalf("config model id = %q, want m2", cfg.ModelID)
	}
	svc.mu.Lock()
	lastErr = svc.lastErr
	svc.mu.Unlock()
	if lastErr != "" {
		t.Fatalf("lastErr = %q, want cleared after successful load", lastErr)
	}
}

func TestLoadRejectedWhileLoaded(t *testing.T) {
	b := newFakeBuilder()
	svc := newTestLoader(t, b, nil)

	if _, err := svc.Load(context.Background(), "m1"); err != nil {
		t.Fatalf("Load m1: %v", err)
	}
	_, err := svc.Load(context.Background(), "m2")
	if !IsInvalidState(err) {
		t.Fatalf("Load m2 while loaded = %v, want invalid state", err)
	}
	// Unload, then the switch succeeds.
	if err := svc.Unload(context.Background()); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, err := svc.Load(context.Background(), "m2"); err != nil {
		t.Fatalf("Load m2 after unload: %v", err)
	}
}

func TestUnloadReleasesExactlyOnce(t *testing.T) {
	b := newFakeBuilder()
	svc := newTestLoader(t, b, nil)

	if _, err := svc.Load(context.Background(), "m1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	b.mu.Lock()
	pipe := b.lastPipe
	b.mu.Unlock()

	if err := svc.Unload(context.Background()); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if n := atomic.LoadInt32(&pipe.released); n != 1 {
		t.Fatalf("Release called %d times, want 1", n)
	}
	// Second unload is a no-op.
	if err := svc.Unload(context.Background()); err != nil {
		t.Fatalf("second Unload: %v", err)
	}
	if n := atomic.LoadInt32(&pipe.released); n != 1 {
		t.Fatalf("Release called %d times after second unload, want 1", n)
	}
}

func TestUnloadRecoversFromError(t *testing.T) {
	b := newFakeBuilder()
	b.failOn["m1"] = errors.New("no weights")
	svc := newTestLoader(t, b, nil)

	if _, err := svc.Load(context.Background(), "m1"); err == nil {
		t.Fatal("Load m1 succeeded, want failure")
	}
	if err := svc.Unload(context.Background()); err != nil {
		t.Fatalf("Unload from error: %v", err)
	}
	if st := currentState(svc); st != StateIdle {
		t.Fatalf("state = %q, want idle", st)
	}
	svc.mu.Lock()
	lastErr := svc.lastErr
	svc.mu.Unlock()
	if lastErr != "" {
		t.Fatalf("lastErr = %q, want cleared by reset", lastErr)
	}
}

func TestUnloadDuringCancellingDrains(t *testing.T) {
	b := newFakeBuilder()
	b.blockOn = "m1"
	b.unblock = make(chan struct{})
	b.holdCancel = make(chan struct{})
	svc := newTestLoader(t, b, nil)

	loadErr := make(chan error, 1)
	go func() {
		_, err := svc.Load(context.Background(), "m1")
		loadErr <- err
	}()
	waitForState(t, svc, StateLoading)

	// A first caller starts the cancellation; the build holds its
	// cancellation checkpoint so the cancelling window stays open.
	cancelDone := make(chan struct{})
	go func() {
		svc.CancelCurrentLoad()
		close(cancelDone)
	}()
	waitForState(t, svc, StateCancelling)

	unloadErr := make(chan error, 1)
	go func() {
		unloadErr <- svc.Unload(context.Background())
	}()

	// Unload must drain the live attempt, not reset state underneath it.
	select {
	case err := <-unloadErr:
		t.Fatalf("Unload returned %v before the attempt drained", err)
	case <-time.After(20 * time.Millisecond):
	}
	if st := currentState(svc); st != StateCancelling {
		t.Fatalf("state = %q while attempt drains, want cancelling", st)
	}

	close(b.holdCancel)
	if err := <-unloadErr; err != nil {
		t.Fatalf("Unload: %v", err)
	}
	<-cancelDone
	if err := <-loadErr; !IsCancelled(err) {
		t.Fatalf("Load error = %v, want cancelled", err)
	}
	if st := currentState(svc); st != StateIdle {
		t.Fatalf("state = %q after drain, want idle", st)
	}
	svc.mu.Lock()
	att := svc.attempt
	svc.mu.Unlock()
	if att != nil {
		t.Fatal("stale attempt handle survived the drain")
	}

	// The lane is free again: a fresh load commits cleanly and unloading it
	// ends idle, never loaded.
	if _, err := svc.Load(context.Background(), "m2"); err != nil {
		t.Fatalf("Load m2: %v", err)
	}
	if err := svc.Unload(context.Background()); err != nil {
		t.Fatalf("Unload m2: %v", err)
	}
	if st := currentState(svc); st != StateIdle {
		t.Fatalf("final state = %q, want idle", st)
	}
}

func TestUnloadCleanupFailureEntersError(t *testing.T) {
	b := newFakeBuilder()
	b.releaseErr = errors.New("still referenced")
	svc := newTestLoader(t, b, nil)

	if _, err := svc.Load(context.Background(), "m1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	err := svc.Unload(context.Background())
	if !IsCleanupFailed(err) {
		t.Fatalf("Unload error = %v, want cleanup failure", err)
	}
	if st := currentState(svc); st != StateError {
		t.Fatalf("state = %q, want error", st)
	}
	svc.mu.Lock()
	pipe := svc.pipelines.GetPipeline()
	lastErr := svc.lastErr
	svc.mu.Unlock()
	if pipe != nil {
		t.Fatal("dangling pipeline reference after failed cleanup")
	}
	if lastErr == "" {
		t.Fatal("lastErr not recorded after failed cleanup")
	}

	// The error state recovers to idle on the next unload.
	if err := svc.Unload(context.Background()); err != nil {
		t.Fatalf("recovery Unload: %v", err)
	}
	if st := currentState(svc); st != StateIdle {
		t.Fatalf("state = %q after recovery, want idle", st)
	}
}

func TestCancelWithoutLoadIsSafe(t *testing.T) {
	svc := newTestLoader(t, newFakeBuilder(), nil)
	svc.CancelCurrentLoad()
	if st := currentState(svc); st != StateIdle {
		t.Fatalf("state = %q, want idle", st)
	}
}

func TestBuildsNeverOverlap(t *testing.T) {
	b := newFakeBuilder()
	svc := newTestLoader(t, b, nil)

	var wg sync.WaitGroup
	ids := []string{"m1", "m2", "m3", "m1", "m2"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = svc.Load(context.Background(), id)
			_ = svc.Unload(context.Background())
		}(id)
	}
	wg.Wait()

	if max := atomic.LoadInt32(&b.maxInFlight); max > 1 {
		t.Fatalf("observed %d concurrent builds, want at most 1", max)
	}
}
