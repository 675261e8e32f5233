package broker

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/broker/backend"
	"github.com/gogpu/broker/gpucore"
)

// recorder wraps a real backend, logs every call in order and can inject
// failures, panics and a gate that holds RequestAdapter.
type recorder struct {
	inner backend.Backend

	mu       sync.Mutex
	log      []string
	failures map[string]error
	panics   map[string]any
	releases int

	// gate, when set, blocks RequestAdapter until it is closed.
	gate chan struct{}
}

func newRecorder(t *testing.T) *recorder {
	t.Helper()
	return &recorder{
		inner:    backend.Get(backend.BackendNoop),
		failures: make(map[string]error),
		panics:   make(map[string]any),
	}
}

func (r *recorder) failOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = err
}

func (r *recorder) panicOn(op string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panics[op] = v
}

// enter records the call and applies any injected behavior for op.
func (r *recorder) enter(op string, args ...any) error {
	r.mu.Lock()
	entry := op
	if len(args) > 0 {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		entry += "(" + strings.Join(parts, ",") + ")"
	}
	r.log = append(r.log, entry)
	err, p := r.failures[op], r.panics[op]
	r.mu.Unlock()

	if p != nil {
		panic(p)
	}
	return err
}

// calls returns a copy of the call log.
func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

// reset clears the call log.
func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
}

func (r *recorder) released() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releases
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) RequestAdapter(id gpucore.AdapterID, opts *gputypes.RequestAdapterOptions) (gputypes.AdapterInfo, error) {
	if err := r.enter("RequestAdapter", id); err != nil {
		return gputypes.AdapterInfo{}, err
	}
	if r.gate != nil {
		<-r.gate
	}
	return r.inner.RequestAdapter(id, opts)
}

func (r *recorder) RequestDevice(id gpucore.DeviceID, adapter gpucore.AdapterID, desc *gputypes.DeviceDescriptor) error {
	if err := r.enter("RequestDevice", id, adapter); err != nil {
		return err
	}
	return r.inner.RequestDevice(id, adapter, desc)
}

func (r *recorder) CreateBuffer(id gpucore.BufferID, device gpucore.DeviceID, desc *gputypes.BufferDescriptor) error {
	if err := r.enter("CreateBuffer", id, device, desc.Label); err != nil {
		return err
	}
	return r.inner.CreateBuffer(id, device, desc)
}

func (r *recorder) DestroyBuffer(id gpucore.BufferID) error {
	if err := r.enter("DestroyBuffer", id); err != nil {
		return err
	}
	return r.inner.DestroyBuffer(id)
}

func (r *recorder) PollDevice(device gpucore.DeviceID, wait bool) error {
	if err := r.enter("PollDevice", device, wait); err != nil {
		return err
	}
	return r.inner.PollDevice(device, wait)
}

func (r *recorder) DestroyDevice(id gpucore.DeviceID) error {
	if err := r.enter("DestroyDevice", id); err != nil {
		return err
	}
	return r.inner.DestroyDevice(id)
}

func (r *recorder) Release() {
	_ = r.enter("Release")
	r.mu.Lock()
	r.releases++
	r.mu.Unlock()
	r.inner.Release()
}
