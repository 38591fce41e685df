package hostevent

import "sync/atomic"

// DevCommandKind selects the devserver operation a DevCommand carries out.
type DevCommandKind int32

const (
	RunUploadedWasm DevCommandKind = iota + 1
	StopUploadedWasm
)

// Reply is a two-owner, one-shot completion cell: the producer (an HTTP
// handler thread) and the loop each hold one reference, and each must call
// Release exactly once. Signal closes Done; Release only drops the reference
// count and does not close or free anything itself.
type Reply struct {
	refcount atomic.Int32
	done     chan struct{}

	Result  int32
	Message string
}

// NewReply allocates a Reply with refcount 2 (producer + loop).
func NewReply() *Reply {
	r := &Reply{done: make(chan struct{})}
	r.refcount.Store(2)
	return r
}

// Done returns a channel closed once the loop has finished processing and
// signaled completion.
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

// Signal marks the command as complete, recording the result and message.
// Safe to call at most once; called by the loop before it releases its
// ownership.
func (r *Reply) Signal(result int32, message string) {
	r.Result = result
	r.Message = message
	close(r.done)
}

// Release drops one of the two ownership references. The caller must not
// touch r after calling Release.
func (r *Reply) Release() {
	r.refcount.Add(-1)
}

// DevCommand is owned by the loop once enqueued via NewDevCommandEvent; the
// loop frees the module bytes/args and releases the reply exactly once.
type DevCommand struct {
	Kind DevCommandKind

	WasmBytes []byte
	Args      string

	Reply *Reply
}
