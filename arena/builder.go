package arena

import "github.com/nyxkernel/vmem/internal/klog"

// Builder constructs a self-sufficient base arena: one with no source
// and no importer, whose unused-BT reserve is primed before any span
// exists. A base arena must never depend on anything beneath it to
// bootstrap itself; AddSpan can be called on the result immediately
// afterward to hand it its first real memory.
func Builder(name string, quantum uintptr, log *klog.Logger) *Arena {
	a, err := New(Config{Name: name, Quantum: quantum, Log: log})
	if err != nil {
		// New cannot fail when neither Size nor Source is set.
		panic(err)
	}
	a.mu.Lock()
	a.refillUnused(btagReserve)
	a.mu.Unlock()
	return a
}
