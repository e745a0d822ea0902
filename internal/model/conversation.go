package model

import (
	"sync"
	"time"
)

// HistorySummary is the compressed rendering of every backend message with an
// id at or below HighWater.
type HistorySummary struct {
	Text      string
	HighWater int64
}

// ScanState tracks what the context builder has already looked at.
type ScanState struct {
	LastScanAt      time.Time // disk modifications before this are already accounted for
	LastToolScanID  int64     // tool calls at or below this id were already scanned
	LastReductionID int64     // backend id at the last file reduction
	Reduced         bool
}

type compression struct {
	gen     uint64
	running bool
	pending *HistorySummary
}

// Conversation holds both message streams and the task state for one task.
// Ids come from one counter shared by both streams and are never reused.
type Conversation struct {
	ID        int64
	StartedAt time.Time
	Files     *FileRelevance

	mu             sync.RWMutex
	nextID         int64
	backend        []Message
	frontend       []FrontendMessage
	description    string
	title          string
	classification *Classification
	plan           []TaskPlanStep
	taskContext    *TaskContext
	judgedComplex  *bool
	summary        HistorySummary
	compression    compression
	scan           ScanState
	usage          map[string]Usage
}

func NewConversation(id int64, description string, now time.Time) *Conversation {
	return &Conversation{
		ID:          id,
		StartedAt:   now,
		Files:       NewFileRelevance(),
		description: description,
		usage:       make(map[string]Usage),
		scan:        ScanState{LastScanAt: now},
	}
}

// Append allocates one id and stores it on whichever of backend and frontend
// is non-nil, so both entries correlate.
func (c *Conversation) Append(backend *Message, frontend *FrontendMessage) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	now := time.Now()

	if backend != nil {
		m := *backend
		m.ID = id
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		c.backend = append(c.backend, m)
	}
	if frontend != nil {
		m := *frontend
		m.ID = id
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		c.frontend = append(c.frontend, m)
	}
	return id
}

func (c *Conversation) AddBackend(m Message) int64 {
	return c.Append(&m, nil)
}

func (c *Conversation) AddFrontend(m FrontendMessage) int64 {
	return c.Append(nil, &m)
}

// DeleteMessagesAfter drops every message with an id above id from both
// streams. The id counter is not rewound. Summary and scan state that cover
// dropped messages are reset and any in-flight compression is invalidated.
func (c *Conversation) DeleteMessagesAfter(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backend = truncate(c.backend, func(m Message) bool { return m.ID <= id })
	c.frontend = truncate(c.frontend, func(m FrontendMessage) bool { return m.ID <= id })

	if c.summary.HighWater > id {
		c.summary = HistorySummary{}
	}
	c.compression.gen++
	c.compression.pending = nil

	c.scan.LastToolScanID = min(c.scan.LastToolScanID, id)
	if c.scan.LastReductionID > id {
		c.scan.LastReductionID = id
	}
}

func truncate[T any](msgs []T, keep func(T) bool) []T {
	n := 0
	for n < len(msgs) && keep(msgs[n]) {
		n++
	}
	return msgs[:n:n]
}

// Backend returns a copy of the backend stream.
func (c *Conversation) Backend() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.backend...)
}

func (c *Conversation) BackendLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.backend)
}

// Frontend returns a copy of the display stream.
func (c *Conversation) Frontend() []FrontendMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]FrontendMessage(nil), c.frontend...)
}

func (c *Conversation) LastID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextID
}

func (c *Conversation) Description() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.description
}

func (c *Conversation) Title() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.title
}

func (c *Conversation) Classification() (Classification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.classification == nil {
		return Classification{}, false
	}
	return *c.classification, true
}

func (c *Conversation) SetClassification(cl Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classification = &cl
	if cl.Title != "" {
		c.title = cl.Title
	}
}

// Complex reports whether the task needs a plan. Set by classification or by
// the context builder's own judgement when no classification exists.
func (c *Conversation) Complex() (isComplex, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.classification != nil {
		return c.classification.TaskType == TaskTypeMultiStep, true
	}
	if c.judgedComplex != nil {
		return *c.judgedComplex, true
	}
	return false, false
}

func (c *Conversation) SetComplex(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.judgedComplex = &v
}

// Plan returns a copy of the plan steps.
func (c *Conversation) Plan() []TaskPlanStep {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]TaskPlanStep(nil), c.plan...)
}

func (c *Conversation) HasPlan() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plan) > 0
}

// SetPlan replaces the plan. Steps keep the completed flag they arrive with.
func (c *Conversation) SetPlan(steps []TaskPlanStep) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = append([]TaskPlanStep(nil), steps...)
}

// CompleteTaskPlanStep marks steps 1..id (1-based, as rendered) completed.
// Completion never reverts, and ids past the end complete the whole plan.
func (c *Conversation) CompleteTaskPlanStep(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < id && i < len(c.plan); i++ {
		c.plan[i].Completed = true
	}
}

func (c *Conversation) TaskContext() *TaskContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.taskContext
}

func (c *Conversation) SetTaskContext(tc *TaskContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskContext = tc
}

func (c *Conversation) Summary() HistorySummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary
}

// BeginCompression claims the single compression slot. It returns false when
// a compression is already running.
func (c *Conversation) BeginCompression() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compression.running {
		return 0, false
	}
	c.compression.running = true
	return c.compression.gen, true
}

// FinishCompression releases the slot. A non-nil result is kept for
// ApplyPendingSummary unless messages were deleted since BeginCompression.
func (c *Conversation) FinishCompression(gen uint64, result *HistorySummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compression.running = false
	if result == nil || gen != c.compression.gen {
		return
	}
	c.compression.pending = result
}

// ApplyPendingSummary installs a finished compression. Reports whether one was applied.
func (c *Conversation) ApplyPendingSummary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.compression.pending
	if p == nil {
		return false
	}
	c.compression.pending = nil
	if p.HighWater <= c.summary.HighWater {
		return false
	}
	c.summary = *p
	return true
}

func (c *Conversation) CompressionRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compression.running
}

func (c *Conversation) Scan() ScanState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scan
}

func (c *Conversation) SetScan(s ScanState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scan = s
}

func (c *Conversation) AddUsage(model string, prompt, completion int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.usage[model]
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.Calls++
	c.usage[model] = u
}

func (c *Conversation) Usage() map[string]Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Usage, len(c.usage))
	for k, v := range c.usage {
		out[k] = v
	}
	return out
}
