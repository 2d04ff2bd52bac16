package controller

// subscriber is one latest-wins reader of published state
type subscriber struct {
	ch chan DetectionState
}

// deliver replaces the oldest pending snapshot when the reader is behind.
// Callers hold c.mu, so there is a single writer per channel.
func (s *subscriber) deliver(st DetectionState) {
	for {
		select {
		case s.ch <- st:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Subscribe returns a channel of state snapshots and a cancel function. The
// current snapshot is delivered immediately. A reader that falls behind
// loses intermediate snapshots, never the latest one. The channel is closed
// by cancel or by Close.
func (c *Controller) Subscribe(buffer int) (<-chan DetectionState, func()) {
	buffer = max(buffer, 1)
	sub := &subscriber{ch: make(chan DetectionState, buffer)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = sub
	sub.deliver(c.snapshot)
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// publishLocked stamps and fans out the current snapshot. c.mu must be held.
func (c *Controller) publishLocked() {
	c.snapshot.Status = c.state
	c.snapshot.IsRecording = c.state == Recording
	c.snapshot.IsLoading = c.state == Loading
	c.snapshot.UpdatedAt = c.now()
	for _, sub := range c.subs {
		sub.deliver(c.snapshot)
	}
}
