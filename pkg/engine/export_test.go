package engine

// SetRemoveAll replaces the function Remove uses to delete torrent data.
func SetRemoveAll(e *Engine, fn func(string) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeAll = fn
}

// ListenPort returns the port the torrent client accepts peers on.
func ListenPort(e *Engine) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.client == nil {
		return 0
	}
	return e.client.LocalPort()
}
