package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/broker/backend"
	"github.com/gogpu/broker/gpucore"
)

func readback(label string) gputypes.BufferDescriptor {
	return gputypes.BufferDescriptor{
		Label: label,
		Size:  16,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	}
}

// startBroker starts a broker over a recorder and shuts it down at cleanup.
func startBroker(t *testing.T) (*Broker, *recorder) {
	t.Helper()
	rec := newRecorder(t)
	b, err := New(DefaultConfig(), WithBackend(rec))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, b.Shutdown(ctx))
	})
	return b, rec
}

// openDevice requests an adapter and a device and clears the call log.
func openDevice(t *testing.T, b *Broker, rec *recorder) (AdapterHandle, DeviceHandle) {
	t.Helper()
	ctx := context.Background()
	ad, err := b.RequestAdapter(ctx, gputypes.RequestAdapterOptions{})
	require.NoError(t, err)
	dev, err := b.RequestDevice(ctx, ad.Adapter, gputypes.DefaultDeviceDescriptor())
	require.NoError(t, err)
	rec.reset()
	return ad.Adapter, dev.Device
}

func TestLifecycle(t *testing.T) {
	rec := newRecorder(t)
	b, err := New(DefaultConfig(), WithBackend(rec))
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, b.Closed())
	ad, err := b.RequestAdapter(ctx, gputypes.RequestAdapterOptions{})
	require.NoError(t, err)
	assert.False(t, ad.Adapter.IsZero())
	assert.Equal(t, "Noop Adapter", ad.Info.Name)
	assert.Equal(t, gpucontext.AdapterTypeUnknown, ad.Summary.Type)

	desc := gputypes.DefaultDeviceDescriptor()
	desc.Label = "main"
	dev, err := b.RequestDevice(ctx, ad.Adapter, desc)
	require.NoError(t, err)
	assert.Equal(t, desc, dev.Descriptor)

	buf, err := b.CreateBuffer(ctx, dev.Device, readback("rb"))
	require.NoError(t, err)
	assert.Equal(t, readback("rb"), buf.Descriptor)

	snap, err := b.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, dev.Device, snap.Buffers[buf.Buffer])

	require.NoError(t, b.DestroyBuffer(buf.Buffer))
	snap, err = b.Inspect(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Buffers)
	assert.Len(t, snap.Devices, 1)

	require.NoError(t, b.Shutdown(ctx))
	assert.Equal(t, 1, rec.released())
	assert.Equal(t, []string{
		"RequestAdapter(adapter:1)",
		"RequestDevice(device:1,adapter:1)",
		"CreateBuffer(buffer:1,device:1,rb)",
		"DestroyBuffer(buffer:1)",
		"DestroyDevice(device:1)",
		"Release",
	}, rec.calls())

	select {
	case <-b.Done():
	default:
		t.Fatal("actor still running after Shutdown")
	}
}

func TestCreateBufferUnknownDevice(t *testing.T) {
	b, rec := startBroker(t)
	openDevice(t, b, rec)

	_, err := b.CreateBuffer(context.Background(), gpucore.NewDeviceID(42), readback("x"))
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.Empty(t, rec.calls())
}

func TestRequestDeviceUnknownAdapter(t *testing.T) {
	b, rec := startBroker(t)

	_, err := b.RequestDevice(context.Background(), gpucore.NewAdapterID(7), gputypes.DefaultDeviceDescriptor())
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.Empty(t, rec.calls())
}

func TestShutdownDestroysBuffersBeforeDevice(t *testing.T) {
	rec := newRecorder(t)
	b, err := New(DefaultConfig(), WithBackend(rec))
	require.NoError(t, err)
	_, dev := openDevice(t, b, rec)
	ctx := context.Background()

	b1, err := b.CreateBuffer(ctx, dev, readback("a"))
	require.NoError(t, err)
	b2, err := b.CreateBuffer(ctx, dev, readback("b"))
	require.NoError(t, err)
	rec.reset()

	require.NoError(t, b.Shutdown(ctx))
	assert.Equal(t, []string{
		"PollDevice(device:1,true)",
		fmt.Sprintf("DestroyBuffer(%s)", b1.Buffer),
		"PollDevice(device:1,true)",
		fmt.Sprintf("DestroyBuffer(%s)", b2.Buffer),
		"DestroyDevice(device:1)",
		"Release",
	}, rec.calls())
}

func TestShutdownIsIdempotent(t *testing.T) {
	rec := newRecorder(t)
	b, err := New(DefaultConfig(), WithBackend(rec))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Shutdown(ctx))
	require.NoError(t, b.Shutdown(ctx))
	assert.Equal(t, 1, rec.released())
}

func TestUniqueBufferHandles(t *testing.T) {
	b, rec := startBroker(t)
	_, dev := openDevice(t, b, rec)
	ctx := context.Background()

	const workers, per = 8, 16
	var (
		mu   sync.Mutex
		seen = make(map[BufferHandle]bool)
		wg   sync.WaitGroup
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range per {
				resp, err := b.CreateBuffer(ctx, dev, readback(fmt.Sprintf("w%d-%d", w, i)))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[resp.Buffer], "duplicate %s", resp.Buffer)
				seen[resp.Buffer] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	snap, err := b.Inspect(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Buffers, workers*per)
	for h := range seen {
		assert.Equal(t, dev, snap.Buffers[h])
	}
}

func TestDestroyBufferTwice(t *testing.T) {
	b, rec := startBroker(t)
	_, dev := openDevice(t, b, rec)
	ctx := context.Background()

	buf, err := b.CreateBuffer(ctx, dev, readback("x"))
	require.NoError(t, err)
	rec.reset()

	require.NoError(t, b.DestroyBuffer(buf.Buffer))
	require.NoError(t, b.DestroyBuffer(buf.Buffer))
	snap, err := b.Inspect(ctx)
	require.NoError(t, err)

	assert.NotContains(t, snap.Buffers, buf.Buffer)
	assert.Equal(t, []string{fmt.Sprintf("DestroyBuffer(%s)", buf.Buffer)}, rec.calls())
}

func TestDestroyDevice(t *testing.T) {
	b, rec := startBroker(t)
	ad, dev := openDevice(t, b, rec)
	ctx := context.Background()

	b1, err := b.CreateBuffer(ctx, dev, readback("a"))
	require.NoError(t, err)
	b2, err := b.CreateBuffer(ctx, dev, readback("b"))
	require.NoError(t, err)
	rec.reset()

	require.NoError(t, b.DestroyDevice(ctx, dev))
	assert.Equal(t, []string{
		fmt.Sprintf("PollDevice(%s,true)", dev),
		fmt.Sprintf("DestroyBuffer(%s)", b1.Buffer),
		fmt.Sprintf("DestroyBuffer(%s)", b2.Buffer),
		fmt.Sprintf("DestroyDevice(%s)", dev),
	}, rec.calls())

	// The handle is dead everywhere afterwards.
	_, err = b.CreateBuffer(ctx, dev, readback("c"))
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.ErrorIs(t, b.DestroyDevice(ctx, dev), ErrUnknownHandle)

	snap, err := b.Inspect(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Devices)
	assert.Empty(t, snap.Buffers)
	assert.Equal(t, []AdapterHandle{ad}, snap.Adapters)
}

func TestFIFOAcrossCallers(t *testing.T) {
	b, rec := startBroker(t)
	_, dev := openDevice(t, b, rec)

	const callers, per = 4, 25
	replies := make([][]chan Result[BufferResponse], callers)
	var wg sync.WaitGroup
	for c := range callers {
		replies[c] = make([]chan Result[BufferResponse], per)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range per {
				ch := make(chan Result[BufferResponse], 1)
				replies[c][i] = ch
				desc := readback(fmt.Sprintf("c%d-%d", c, i))
				if err := b.Send(CreateBuffer{Device: dev, Descriptor: desc, Reply: ch}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// Within each caller, handles increase in send order.
	for c := range callers {
		var last uint64
		for i := range per {
			r := <-replies[c][i]
			require.NoError(t, r.Err)
			assert.Greater(t, r.Value.Buffer.Raw(), last)
			last = r.Value.Buffer.Raw()
		}
	}

	// The backend saw the same order as the handles were minted.
	calls := rec.calls()
	require.Len(t, calls, callers*per)
	for i, call := range calls {
		assert.Contains(t, call, fmt.Sprintf("CreateBuffer(buffer:%d,", i+1))
	}
}

func TestBackendFailureLeavesRegistryUnchanged(t *testing.T) {
	b, rec := startBroker(t)
	_, dev := openDevice(t, b, rec)
	ctx := context.Background()

	rec.failOn("CreateBuffer", backend.ErrInvalidDescriptor)
	_, err := b.CreateBuffer(ctx, dev, readback("x"))
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, backend.ErrInvalidDescriptor)

	snap, err := b.Inspect(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Buffers)
}

func TestInvalidDescriptorFromRealBackend(t *testing.T) {
	b, rec := startBroker(t)
	_, dev := openDevice(t, b, rec)
	ctx := context.Background()

	bad := gputypes.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageStorage}
	_, err := b.CreateBuffer(ctx, dev, bad)
	assert.ErrorIs(t, err, backend.ErrInvalidDescriptor)

	mapped := gputypes.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageCopySrc, MappedAtCreation: true}
	_, err = b.CreateBuffer(ctx, dev, mapped)
	assert.ErrorIs(t, err, backend.ErrUnsupported)
}

func TestBackendPanicIsRecovered(t *testing.T) {
	b, rec := startBroker(t)
	ctx := context.Background()

	ad, err := b.RequestAdapter(ctx, gputypes.RequestAdapterOptions{})
	require.NoError(t, err)

	rec.panicOn("RequestDevice", "driver lost")
	_, err = b.RequestDevice(ctx, ad.Adapter, gputypes.DefaultDeviceDescriptor())
	require.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "driver lost")

	// The actor keeps serving.
	snap, err := b.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, snap.State)
	assert.Empty(t, snap.Devices)
}

func TestNoAdapterKeepsRunning(t *testing.T) {
	b, err := New(Config{Enabled: true, Backend: backend.BackendNoop})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	ctx := context.Background()

	_, err = b.RequestAdapter(ctx, gputypes.RequestAdapterOptions{ForceFallbackAdapter: true})
	require.ErrorIs(t, err, ErrNoAdapter)

	ad, err := b.RequestAdapter(ctx, gputypes.RequestAdapterOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ad.Adapter.Raw(), "failed requests still consume an ID")
}

func TestSoftwareBackendFallback(t *testing.T) {
	b, err := New(Config{Enabled: true, Backend: backend.BackendSoftware})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })

	ad, err := b.RequestAdapter(context.Background(), gputypes.RequestAdapterOptions{ForceFallbackAdapter: true})
	require.NoError(t, err)
	assert.Equal(t, gpucontext.AdapterTypeSoftware, ad.Summary.Type)
	assert.Equal(t, backend.BackendSoftware, b.Backend())
}

func TestRequestsQueuedBehindShutdown(t *testing.T) {
	rec := newRecorder(t)
	rec.gate = make(chan struct{})
	b, err := New(DefaultConfig(), WithBackend(rec))
	require.NoError(t, err)

	adReply := make(chan Result[AdapterResponse], 1)
	bufReply := make(chan Result[BufferResponse], 1)
	inspectReply := make(chan Result[Snapshot], 1)
	ack := make(chan struct{}, 1)
	lateAck := make(chan struct{}, 1)

	require.NoError(t, b.Send(RequestAdapter{Reply: adReply}))
	require.NoError(t, b.Send(Shutdown{Ack: ack}))
	require.NoError(t, b.Send(CreateBuffer{Device: gpucore.NewDeviceID(1), Descriptor: readback("late"), Reply: bufReply}))
	require.NoError(t, b.Send(DestroyBuffer{Buffer: gpucore.NewBufferID(1)}))
	require.NoError(t, b.Send(Inspect{Reply: inspectReply}))
	require.NoError(t, b.Send(Shutdown{Ack: lateAck}))
	close(rec.gate)

	<-b.Done()
	assert.True(t, b.Closed())
	require.NoError(t, (<-adReply).Err)
	assert.ErrorIs(t, (<-bufReply).Err, ErrShutdown)
	assert.ErrorIs(t, (<-inspectReply).Err, ErrShutdown)
	assert.Len(t, ack, 1)
	assert.Len(t, lateAck, 1)

	assert.ErrorIs(t, b.Send(Inspect{Reply: inspectReply}), ErrClosed)
	_, err = b.RequestAdapter(context.Background(), gputypes.RequestAdapterOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, rec.released())
	assert.Equal(t, []string{"RequestAdapter(adapter:1)", "Release"}, rec.calls())
}

func TestContextCancelWhileWaiting(t *testing.T) {
	rec := newRecorder(t)
	rec.gate = make(chan struct{})
	b, err := New(DefaultConfig(), WithBackend(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.RequestAdapter(ctx, gputypes.RequestAdapterOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The request still completes inside the actor.
	close(rec.gate)
	snap, err := b.Inspect(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Adapters, 1)
}

func TestSendRejectsUnbufferedReply(t *testing.T) {
	b, rec := startBroker(t)
	_, dev := openDevice(t, b, rec)

	tests := []struct {
		name string
		req  Request
	}{
		{"RequestAdapter", RequestAdapter{Reply: make(chan Result[AdapterResponse])}},
		{"RequestDevice nil", RequestDevice{Adapter: gpucore.NewAdapterID(1)}},
		{"CreateBuffer", CreateBuffer{Device: dev, Descriptor: readback("x"), Reply: make(chan Result[BufferResponse])}},
		{"DestroyDevice", DestroyDevice{Device: dev, Reply: make(chan Result[struct{}])}},
		{"Inspect nil", Inspect{}},
		{"Shutdown unbuffered ack", Shutdown{Ack: make(chan struct{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, b.Send(tt.req), ErrUnbufferedReply)
		})
	}
	assert.Error(t, b.Send(nil))

	// Nothing reached the actor.
	assert.Empty(t, rec.calls())
	snap, err := b.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, map[DeviceHandle]AdapterHandle{dev: gpucore.NewAdapterID(1)}, snap.Devices)
}

func TestSlowCallerStillGetsReply(t *testing.T) {
	b, _ := startBroker(t)

	reply := make(chan Result[AdapterResponse], 1)
	require.NoError(t, b.Send(RequestAdapter{Reply: reply}))

	// The caller is not receiving when the actor answers.
	time.Sleep(20 * time.Millisecond)
	select {
	case r := <-reply:
		require.NoError(t, r.Err)
		assert.False(t, r.Value.Adapter.IsZero())
	case <-time.After(time.Second):
		t.Fatal("reply lost for a live caller")
	}
}

func TestReplyOnFullChannelIsDropped(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	b, _ := startBroker(t)

	// A caller that reused its reply channel without draining it.
	full := make(chan Result[Snapshot], 1)
	full <- Result[Snapshot]{}
	require.NoError(t, b.Send(Inspect{Reply: full}))

	// A later request is still served.
	_, err := b.Inspect(context.Background())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "channel full")
	assert.Len(t, full, 1)
}

func TestInspect(t *testing.T) {
	b, rec := startBroker(t)
	ad, dev := openDevice(t, b, rec)
	ctx := context.Background()

	buf, err := b.CreateBuffer(ctx, dev, readback("x"))
	require.NoError(t, err)

	snap, err := b.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, "recorder", snap.Backend)
	assert.Equal(t, []AdapterHandle{ad}, snap.Adapters)
	assert.Equal(t, map[DeviceHandle]AdapterHandle{dev: ad}, snap.Devices)
	assert.Equal(t, map[BufferHandle]DeviceHandle{buf.Buffer: dev}, snap.Buffers)
	assert.Equal(t, uint64(4), snap.Processed)
	assert.Zero(t, snap.Queued)
	assert.Equal(t, IssuedIDs{Adapters: 1, Devices: 1, Buffers: 1}, snap.Issued)
	assert.Nil(t, snap.Memory)

	// Snapshots are copies.
	delete(snap.Buffers, buf.Buffer)
	again, err := b.Inspect(ctx)
	require.NoError(t, err)
	assert.Len(t, again.Buffers, 1)
}

func TestNew(t *testing.T) {
	_, err := New(Config{Enabled: false})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = New(Config{Enabled: true, Backend: "vulkan"})
	assert.ErrorIs(t, err, backend.ErrBackendNotAvailable)

	_, err = New(Config{Enabled: true, LogLevel: "loud"})
	assert.Error(t, err)

	var logBuf bytes.Buffer
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })
	l := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	b, err := New(Config{Enabled: true, ThreadName: "gpu-test", Backend: backend.BackendNoop}, WithLogger(l))
	require.NoError(t, err)
	require.NoError(t, b.Shutdown(context.Background()))
	assert.Same(t, l, Logger())
	assert.Contains(t, logBuf.String(), "thread=gpu-test")
	assert.Contains(t, logBuf.String(), "broker: teardown complete")
}

func TestResultGet(t *testing.T) {
	v, err := Result[int]{Value: 3}.Get()
	assert.Equal(t, 3, v)
	assert.NoError(t, err)

	boom := errors.New("boom")
	_, err = Result[int]{Err: boom}.Get()
	assert.Same(t, boom, err)
}

func TestMemoryBudget(t *testing.T) {
	b, err := New(Config{Enabled: true, Backend: backend.BackendNoop, MemoryBudgetMB: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	ctx := context.Background()

	ad, err := b.RequestAdapter(ctx, gputypes.RequestAdapterOptions{})
	require.NoError(t, err)
	dev, err := b.RequestDevice(ctx, ad.Adapter, gputypes.DefaultDeviceDescriptor())
	require.NoError(t, err)

	half := gputypes.BufferDescriptor{Size: 512 << 10, Usage: gputypes.BufferUsageStorage}
	first, err := b.CreateBuffer(ctx, dev.Device, half)
	require.NoError(t, err)
	_, err = b.CreateBuffer(ctx, dev.Device, half)
	require.NoError(t, err)

	_, err = b.CreateBuffer(ctx, dev.Device, half)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, backend.ErrMemoryBudgetExceeded)

	require.NoError(t, b.DestroyBuffer(first.Buffer))
	_, err = b.CreateBuffer(ctx, dev.Device, half)
	require.NoError(t, err)

	snap, err := b.Inspect(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Memory)
	assert.Equal(t, uint64(1<<20), snap.Memory.UsedBytes)
	assert.Equal(t, uint64(1), snap.Memory.Rejected)
	assert.Len(t, snap.Buffers, 2)
}

func TestInspectReportsQueue(t *testing.T) {
	rec := newRecorder(t)
	rec.gate = make(chan struct{})
	b, err := New(DefaultConfig(), WithBackend(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })

	adReply := make(chan Result[AdapterResponse], 1)
	first := make(chan Result[Snapshot], 1)
	second := make(chan Result[Snapshot], 1)
	require.NoError(t, b.Send(RequestAdapter{Reply: adReply}))
	require.NoError(t, b.Send(Inspect{Reply: first}))
	require.NoError(t, b.Send(Inspect{Reply: second}))
	close(rec.gate)

	s1, err := (<-first).Get()
	require.NoError(t, err)
	s2, err := (<-second).Get()
	require.NoError(t, err)
	assert.Equal(t, 1, s1.Queued)
	assert.Zero(t, s2.Queued)
	assert.Equal(t, IssuedIDs{Adapters: 1}, s2.Issued)
}
