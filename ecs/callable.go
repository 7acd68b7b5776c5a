package ecs

import (
	"sync"

	"go.uber.org/zap"
)

// CallableFn is a host function exposed to systems. It receives the raw
// parameter bytes and returns the raw return value.
type CallableFn func(params []byte) ([]byte, error)

// CompletedTask is one finished async call, delivered to systems through a
// Completion arg.
type CompletedTask struct {
	ReturnValue []byte
	UserData    []byte
}

type callableEntry struct {
	fn     CallableFn
	isSync bool
}

type queuedCall struct {
	functionId   ComponentId
	completionId ComponentId // InvalidComponentId when the caller ignores the result
	params       []byte
	userData     []byte
}

type arrivedResult struct {
	completionId ComponentId
	task         CompletedTask
}

// Callables dispatches host functions for systems. Sync functions run at the
// call site; non-sync functions are queued and dispatched on goroutines at
// the end of the frame. Results become readable through Completions at the
// start of the frame after they arrive and stay readable for that one frame.
type Callables struct {
	fns map[ComponentId]callableEntry

	mu      sync.Mutex
	queue   []queuedCall
	arrived []arrivedResult

	completions map[ComponentId][]CompletedTask

	logger *zap.Logger
}

func NewCallables(logger *zap.Logger) *Callables {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Callables{
		fns:         make(map[ComponentId]callableEntry),
		completions: make(map[ComponentId][]CompletedTask),
		logger:      logger,
	}
}

func (c *Callables) register(id ComponentId, fn CallableFn, isSync bool) {
	c.fns[id] = callableEntry{fn: fn, isSync: isSync}
}

// Call invokes a callable, discarding its result. Unknown ids are ignored.
func (c *Callables) Call(functionId ComponentId, params []byte) {
	entry, ok := c.fns[functionId]
	if !ok {
		return
	}

	if entry.isSync {
		if _, err := entry.fn(params); err != nil {
			c.logger.Warn("callable returned error", zap.Uint16("function", uint16(functionId)), zap.Error(err))
		}
		return
	}

	c.enqueue(queuedCall{functionId: functionId, params: cloneBytes(params)})
}

// CallAsync invokes a callable and routes its result to a completion type.
// userData is returned alongside the result so callers can match completions
// to requests.
func (c *Callables) CallAsync(functionId, completionId ComponentId, params, userData []byte) {
	entry, ok := c.fns[functionId]
	if !ok {
		return
	}

	if entry.isSync {
		c.run(entry, functionId, completionId, params, cloneBytes(userData))
		return
	}

	c.enqueue(queuedCall{
		functionId:   functionId,
		completionId: completionId,
		params:       cloneBytes(params),
		userData:     cloneBytes(userData),
	})
}

func (c *Callables) enqueue(call queuedCall) {
	c.mu.Lock()
	c.queue = append(c.queue, call)
	c.mu.Unlock()
}

func (c *Callables) run(entry callableEntry, functionId, completionId ComponentId, params, userData []byte) {
	ret, err := entry.fn(params)
	if err != nil {
		c.logger.Warn("callable returned error", zap.Uint16("function", uint16(functionId)), zap.Error(err))
		return
	}
	if completionId == InvalidComponentId {
		return
	}

	c.mu.Lock()
	c.arrived = append(c.arrived, arrivedResult{
		completionId: completionId,
		task:         CompletedTask{ReturnValue: ret, UserData: userData},
	})
	c.mu.Unlock()
}

// Completions returns the results readable this frame for a completion type.
func (c *Callables) Completions(completionId ComponentId) []CompletedTask {
	return c.completions[completionId]
}

// harvestCompletions moves arrived results into the readable lists. Called at
// the start of each frame, before systems run.
func (c *Callables) harvestCompletions() {
	c.mu.Lock()
	arrived := c.arrived
	c.arrived = nil
	c.mu.Unlock()

	for _, r := range arrived {
		c.completions[r.completionId] = append(c.completions[r.completionId], r.task)
	}
}

// dispatchQueueAndClearCompletions runs at the end of each frame: queued
// non-sync calls start on goroutines, and this frame's readable completions
// are dropped.
func (c *Callables) dispatchQueueAndClearCompletions() {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, call := range queue {
		entry := c.fns[call.functionId]
		go c.run(entry, call.functionId, call.completionId, call.params, call.userData)
	}

	for id := range c.completions {
		delete(c.completions, id)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
