package pool

// BytePool stages reusable byte buffers for guest HTTP request bodies.
type BytePool interface {
    Get() []byte
    Put([]byte)
}

// SimpleBytePool is a fixed-capacity, channel-backed pool. Buffers beyond
// capacity are discarded on Put rather than grown into, keeping body staging
// bounded regardless of request volume.
type SimpleBytePool struct {
    bufs chan []byte
    size int
}

// NewSimpleBytePool creates a new pool with the given capacity and buffer size.
func NewSimpleBytePool(capacity, size int) *SimpleBytePool {
    bp := &SimpleBytePool{
        bufs: make(chan []byte, capacity),
        size: size,
    }
    for i := 0; i < capacity; i++ {
        bp.bufs <- make([]byte, size)
    }
    return bp
}

func (bp *SimpleBytePool) Get() []byte {
    select {
    case b := <-bp.bufs:
        return b
    default:
        return make([]byte, bp.size)
    }
}

func (bp *SimpleBytePool) Put(b []byte) {
    select {
    case bp.bufs <- b:
    default:
        // Discard if pool is full.
    }
}
