package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/phoneprefix/core"
)

// recorder keeps every event it sees. fn, when set, decides the return value.
type recorder struct {
	name     string
	priority int
	async    bool
	fn       func(event HookEvent) error

	mu     sync.Mutex
	events []HookEvent
	trail  *[]string
}

func (r *recorder) OnEvent(ctx context.Context, event HookEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	if r.trail != nil {
		*r.trail = append(*r.trail, r.name)
	}
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(event)
	}
	return nil
}

func (r *recorder) Priority() int { return r.priority }
func (r *recorder) IsAsync() bool { return r.async }

func (r *recorder) seen() []HookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HookEvent(nil), r.events...)
}

func TestPreCompileFile_ListenerRejectsInput(t *testing.T) {
	manager := NewHookManager(nil)
	var trail []string
	errSkipped := errors.New("language excluded from this build")

	audit := &recorder{name: "audit", priority: 1, trail: &trail}
	gate := &recorder{name: "gate", priority: 3, trail: &trail, fn: func(event HookEvent) error {
		p := event.Payload().(PreCompileFilePayload)
		if p.Input.Language == "ko" {
			return fmt.Errorf("%s: %w", p.Input, errSkipped)
		}
		return nil
	}}
	late := &recorder{name: "late", priority: 9, trail: &trail}
	manager.Register(EventPreCompileFile, late)
	manager.Register(EventPreCompileFile, gate)
	manager.Register(EventPreCompileFile, audit)

	allowed := core.InputFile{Language: "de", CountryCode: 49, Path: "de/49.txt"}
	require.NoError(t, manager.Trigger(context.Background(), NewPreCompileFileEvent(PreCompileFilePayload{Input: allowed, Index: 0, Total: 2})))
	assert.Equal(t, []string{"audit", "gate", "late"}, trail)

	trail = trail[:0]
	rejected := core.InputFile{Language: "ko", CountryCode: 82, Path: "ko/82.txt"}
	err := manager.Trigger(context.Background(), NewPreCompileFileEvent(PreCompileFilePayload{Input: rejected, Index: 1, Total: 2}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errSkipped)
	assert.Contains(t, err.Error(), "PreCompileFile")
	assert.Contains(t, err.Error(), "priority 3")
	assert.Equal(t, []string{"audit", "gate"}, trail, "listeners after the failing one are skipped")

	events := audit.seen()
	require.Len(t, events, 2)
	p := events[1].Payload().(PreCompileFilePayload)
	assert.Equal(t, rejected, p.Input)
	assert.Equal(t, 1, p.Index)
	assert.Equal(t, 2, p.Total)
}

func TestPreCompileRun_AsyncListenerRunsInline(t *testing.T) {
	manager := NewHookManager(nil)
	var calls atomic.Int32
	manager.Register(EventPreCompileRun, &recorder{async: true, fn: func(event HookEvent) error {
		calls.Add(1)
		assert.Equal(t, "tables", event.Payload().(CompileRunPayload).InputDir)
		return nil
	}})

	require.NoError(t, manager.Trigger(context.Background(), NewPreCompileRunEvent(CompileRunPayload{InputDir: "tables", Expand: true})))
	assert.Equal(t, int32(1), calls.Load(), "pre-hooks finish before Trigger returns")
}

func TestPostShardWrite_PayloadFields(t *testing.T) {
	manager := NewHookManager(nil)
	bytesPerLanguage := map[core.LanguageCode]int64{}
	var paths []string
	manager.Register(EventPostShardWrite, ListenerFunc(func(ctx context.Context, event HookEvent) error {
		p := event.Payload().(PostShardWritePayload)
		bytesPerLanguage[p.Shard.Language] += p.Bytes
		paths = append(paths, p.Path)
		return nil
	}))

	shards := []PostShardWritePayload{
		{Shard: core.ShardID{Language: "en", Bucket: "1201"}, Path: "out/en/1201.sst", Entries: 12, Bytes: 400},
		{Shard: core.ShardID{Language: "en", Bucket: "1650"}, Path: "out/en/1650.sst", Entries: 3, Bytes: 150},
		{Shard: core.ShardID{Language: "de", Bucket: "49"}, Path: "out/de/49.sst", Entries: 0, Bytes: 90},
	}
	for _, s := range shards {
		require.NoError(t, manager.Trigger(context.Background(), NewPostShardWriteEvent(s)))
	}

	assert.Equal(t, map[core.LanguageCode]int64{"en": 550, "de": 90}, bytesPerLanguage)
	assert.Equal(t, []string{"out/en/1201.sst", "out/en/1650.sst", "out/de/49.sst"}, paths)
}

func TestPostCompileFile_AsyncDelivery(t *testing.T) {
	manager := NewHookManager(nil)
	release := make(chan struct{})
	var delivered atomic.Pointer[PostCompileFilePayload]

	slow := &recorder{async: true, fn: func(event HookEvent) error {
		<-release
		p := event.Payload().(PostCompileFilePayload)
		delivered.Store(&p)
		return errors.New("report sink unavailable")
	}}
	manager.Register(EventPostCompileFile, slow)

	payload := PostCompileFilePayload{
		Input:    core.InputFile{Language: "fr", CountryCode: 86},
		Entries:  2,
		Removed:  1,
		Blanked:  1,
		Buckets:  []core.BucketPrefix{"86", "86101"},
		Duration: 3 * time.Millisecond,
	}
	done := make(chan error, 1)
	go func() { done <- manager.Trigger(context.Background(), NewPostCompileFileEvent(payload)) }()

	select {
	case err := <-done:
		assert.NoError(t, err, "errors of async post-hooks are only logged")
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked on an async listener")
	}
	assert.Nil(t, delivered.Load())

	close(release)
	manager.Stop()
	got := delivered.Load()
	require.NotNil(t, got, "Stop waits for async listeners")
	assert.Equal(t, payload.Buckets, got.Buckets)
	assert.Equal(t, 1, got.Removed)
	assert.Equal(t, 1, got.Blanked)
}

func TestPostManifestWrite_FailingListenerDoesNotStopOthers(t *testing.T) {
	manager := NewHookManager(nil)
	var trail []string
	manager.Register(EventPostManifestWrite, &recorder{name: "upload", priority: 1, trail: &trail, fn: func(HookEvent) error {
		return errors.New("bucket unreachable")
	}})
	notify := &recorder{name: "notify", priority: 2, trail: &trail}
	manager.Register(EventPostManifestWrite, notify)

	err := manager.Trigger(context.Background(), NewPostManifestWriteEvent(PostManifestWritePayload{Path: "out/manifest.bin", Shards: 7}))
	require.NoError(t, err)
	assert.Equal(t, []string{"upload", "notify"}, trail)
	assert.Equal(t, 7, notify.seen()[0].Payload().(PostManifestWritePayload).Shards)
}

func TestTrigger_OnlyListenersOfTheEvent(t *testing.T) {
	manager := NewHookManager(nil)
	var trail []string
	manager.Register(EventPostCompileRun, &recorder{name: "run-b", priority: 0, trail: &trail})
	manager.Register(EventPostCompileRun, &recorder{name: "run-a", priority: -1, trail: &trail})
	manager.Register(EventPostCompileRun, &recorder{name: "run-c", priority: 0, trail: &trail})
	manager.Register(EventPostShardWrite, &recorder{name: "shard", trail: &trail})

	runErr := errors.New("partition miss")
	require.NoError(t, manager.Trigger(context.Background(), NewPostCompileRunEvent(PostCompileRunPayload{Files: 3, Error: runErr})))
	assert.Equal(t, []string{"run-a", "run-b", "run-c"}, trail, "lower priority first, then registration order")

	require.NoError(t, manager.Trigger(context.Background(), NewPreCompileFileEvent(PreCompileFilePayload{})), "no listeners is not an error")
}

func TestTrigger_ConcurrentWorkers(t *testing.T) {
	manager := NewHookManager(nil)
	var entries atomic.Int64
	manager.Register(EventPostShardWrite, &recorder{async: true, fn: func(event HookEvent) error {
		entries.Add(int64(event.Payload().(PostShardWritePayload).Entries))
		return nil
	}})

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = manager.Trigger(context.Background(), NewPostShardWriteEvent(PostShardWritePayload{Entries: 2}))
			}
		}()
	}
	wg.Wait()
	manager.Stop()
	assert.Equal(t, int64(workers*perWorker*2), entries.Load())
}

func BenchmarkTrigger_PostShardWrite(b *testing.B) {
	manager := NewHookManager(nil)
	for i := 0; i < 4; i++ {
		manager.Register(EventPostShardWrite, &recorder{priority: i})
	}
	event := NewPostShardWriteEvent(PostShardWritePayload{Shard: core.ShardID{Language: "en", Bucket: "1201"}})
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = manager.Trigger(ctx, event)
	}
}
