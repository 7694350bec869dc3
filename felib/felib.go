package felib

import "sync"

type cacheKey struct {
	h    uint64
	path string
}

// Digitizer is an open connection to a device.  It is the root node of
// the device tree and the owner of the native handle; closing it
// invalidates every node, format set, and buffer derived from it.
//
// A Digitizer is safe for concurrent navigation and value access.  Reads
// through a FormatSet decode into shared buffers and must be serialized
// per format set by the caller.
type Digitizer struct {
	Node
	a       api
	mu      sync.Mutex
	closed  bool
	cache   map[cacheKey]Node
	formats []*FormatSet
}

// Open connects to the device at url and returns its root node.  URLs
// follow the dig1:// and dig2:// schemes of the underlying library, e.g.
// "dig2://10.0.0.5" or "dig2://caen.internal/usb/51054".
func Open(url string) (*Digitizer, error) {
	return open(lib, url)
}

func open(a api, url string) (*Digitizer, error) {
	h, err := a.Open(url)
	if err != nil {
		return nil, err
	}
	d := &Digitizer{
		a:     a,
		cache: make(map[cacheKey]Node),
	}
	d.Node = Node{h: h, dig: d}
	return d, nil
}

// Close releases the device handle and every format set allocated under
// it.  Close is idempotent; only the first call reaches the native
// library.  Operations on the digitizer or any derived node afterwards
// fail with an InvalidHandle error.
func (d *Digitizer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	formats := d.formats
	d.formats = nil
	d.cache = nil
	d.mu.Unlock()
	for _, fs := range formats {
		fs.release()
	}
	return d.a.Close(d.h)
}

func (d *Digitizer) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Digitizer) cachedNode(h uint64, path string) (Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache == nil {
		return Node{}, false
	}
	n, ok := d.cache[cacheKey{h, path}]
	return n, ok
}

func (d *Digitizer) cacheNode(h uint64, path string, n Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache != nil {
		d.cache[cacheKey{h, path}] = n
	}
}

func (d *Digitizer) track(fs *FormatSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.formats = append(d.formats, fs)
}

func (d *Digitizer) untrack(fs *FormatSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, f := range d.formats {
		if f == fs {
			d.formats = append(d.formats[:i], d.formats[i+1:]...)
			return
		}
	}
}
