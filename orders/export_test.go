package orders

// LockCount reports how many per-order locks are live.
func (w *Workflow) LockCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.locks)
}
