package auction

// Tick runs one clock period without waiting for the ticker.
func (e *Engine) Tick() int { return e.tick() }

// Queued returns the number of commands waiting in the item's mailbox.
func (e *Engine) Queued(itemID int64) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if w, ok := e.workers[itemID]; ok {
		return len(w.mailbox)
	}
	return 0
}
