package qrate

// Push appends item to the backlog. cb may be nil.
func (q *Queue[T]) Push(item T, cb Callback) error {
	return q.insert([]T{item}, false, cb)
}

// PushBatch appends items in order, each as its own task sharing cb. An
// empty batch on an idle queue triggers the drain hook.
func (q *Queue[T]) PushBatch(items []T, cb Callback) error {
	return q.insert(items, false, cb)
}

// Unshift puts item at the front of the backlog.
func (q *Queue[T]) Unshift(item T, cb Callback) error {
	return q.insert([]T{item}, true, cb)
}

// UnshiftBatch puts items at the front of the backlog, keeping their
// relative order.
func (q *Queue[T]) UnshiftBatch(items []T, cb Callback) error {
	return q.insert(items, true, cb)
}

func (q *Queue[T]) insert(items []T, front bool, cb Callback) error {
	if cb == nil {
		cb = noopCallback
	}

	q.mu.Lock()
	if q.killed {
		q.mu.Unlock()
		return ErrKilled
	}
	q.started = true

	if len(items) == 0 {
		idle := q.idleLocked()
		q.mu.Unlock()
		if idle {
			q.loop.Post(q.fireDrain)
		}
		return nil
	}

	if front {
		for i := len(items) - 1; i >= 0; i-- {
			q.tasks.PushFront(q.newTask(items[i], cb))
		}
	} else {
		for _, item := range items {
			q.tasks.PushBack(q.newTask(item, cb))
		}
	}
	if q.limiter != nil {
		q.limiter.wakeLocked()
	}

	schedule := !q.processScheduled
	q.processScheduled = true
	q.mu.Unlock()

	if schedule {
		q.loop.Post(q.scheduledProcess)
	}
	return nil
}

func (q *Queue[T]) newTask(data T, cb Callback) *Task[T] {
	return &Task[T]{ID: q.seq.Add(1), Data: data, callback: cb}
}

func (q *Queue[T]) scheduledProcess() {
	q.mu.Lock()
	q.processScheduled = false
	q.mu.Unlock()
	q.process()
}

func (q *Queue[T]) fireDrain() {
	q.mu.Lock()
	drain := q.hooks.drain
	killed := q.killed
	q.mu.Unlock()

	drain()
	if !killed {
		q.publish(EventQueueDrain, TaskEvent{Queue: q.name})
	}
}
