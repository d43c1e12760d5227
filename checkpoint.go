package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// --- Checkpoint / Interrupt model ---

// InterruptType identifies why a thread is suspended.
type InterruptType string

// InterruptApproval is the only InterruptType the run loop emits today: a
// PreToolUse hook aggregation resolved to "ask" and a human must approve or
// deny the pending tool call before execution continues.
const InterruptApproval InterruptType = "approval"

// Interrupt is a suspension of the run loop pending an out-of-band response,
// typically user approval of a tool call.
type Interrupt struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"threadId"`
	Type      InterruptType   `json:"type"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response,omitempty"`
	CreatedAt int64           `json:"createdAt"`
}

// Pending reports whether the interrupt still awaits a response.
func (i Interrupt) Pending() bool { return len(i.Response) == 0 }

// ApprovalRequest is the Request payload shape for InterruptApproval interrupts.
type ApprovalRequest struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
	Step       int             `json:"step"`
}

// ApprovalResponse is the Response payload shape a caller supplies via
// RespondToInterrupt for an InterruptApproval interrupt.
type ApprovalResponse struct {
	Approved     bool            `json:"approved"`
	ModifiedArgs json.RawMessage `json:"modifiedArgs,omitempty"`
}

// FileRecord is one entry of AgentState.Files.
type FileRecord struct {
	Content    string `json:"content"`
	ModifiedAt int64  `json:"modifiedAt"`
	AccessedAt int64  `json:"accessedAt"`
}

// Todo is one entry of AgentState.Todos.
type Todo struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// AgentState is the run loop's shared mutable structure, carried across
// steps within one thread and persisted as part of its Checkpoint. Files is
// the only structure the loop itself and any tools mutate concurrently;
// FilePaths records insertion order since Go map iteration is not ordered
// and callers (e.g. a files-changed summary) need a stable listing.
type AgentState struct {
	Files     map[string]FileRecord `json:"files"`
	FilePaths []string              `json:"filePaths"`
	Todos     []Todo                `json:"todos"`
}

// SetFile records or updates a file, appending to FilePaths on first write.
func (s *AgentState) SetFile(path string, rec FileRecord) {
	if s.Files == nil {
		s.Files = make(map[string]FileRecord)
	}
	if _, exists := s.Files[path]; !exists {
		s.FilePaths = append(s.FilePaths, path)
	}
	s.Files[path] = rec
}

// Checkpoint is a durable snapshot of a thread sufficient for the run loop
// to resume `generate` mid-loop across process restarts, specifically
// across unresolved interrupts. Step is monotonic non-decreasing along a
// thread; UpdatedAt is never earlier than CreatedAt.
type Checkpoint struct {
	ThreadID   string        `json:"threadId"`
	Step       int           `json:"step"`
	Messages   []ChatMessage `json:"messages"`
	State      AgentState    `json:"state"`
	Interrupts []Interrupt   `json:"interrupts"`
	CreatedAt  int64         `json:"createdAt"`
	UpdatedAt  int64         `json:"updatedAt"`
}

// Suspended reports whether the checkpoint carries any unresolved
// interrupt. While true, no new generation may start on this thread.
func (c Checkpoint) Suspended() bool {
	for _, i := range c.Interrupts {
		if i.Pending() {
			return true
		}
	}
	return false
}

// PendingInterrupt returns the first unresolved interrupt, if any.
func (c Checkpoint) PendingInterrupt() (Interrupt, bool) {
	for _, i := range c.Interrupts {
		if i.Pending() {
			return i, true
		}
	}
	return Interrupt{}, false
}

// Checkpointer persists and retrieves thread checkpoints. Implementations
// (store/sqlite, store/postgres, store/libsql) deep-copy on both Save and
// Load so callers never hold a reference to internal representations.
// Namespace scopes every operation so multiple tenants can share one
// backend without collision; an empty namespace is the default tenant.
type Checkpointer interface {
	Save(ctx context.Context, namespace string, cp Checkpoint) error
	Load(ctx context.Context, namespace, threadID string) (Checkpoint, bool, error)
	List(ctx context.Context, namespace string) ([]string, error)
	Delete(ctx context.Context, namespace, threadID string) error
	Exists(ctx context.Context, namespace, threadID string) (bool, error)
}

// --- Suspend budget ---

// defaultMaxSuspendSnapshots and defaultMaxSuspendBytes bound how many
// unresolved-interrupt checkpoints and how much snapshot data one agent
// process will accumulate before it starts refusing new suspensions and
// instead fails the run with a suspend-budget error — preventing an
// approval-heavy workload from growing the checkpoint store unbounded.
const defaultMaxSuspendSnapshots = 20
const defaultMaxSuspendBytes int64 = 256 * 1024 * 1024 // 256 MB

// suspendBudget tracks outstanding suspended checkpoints for one agent.
// Shared (by pointer) across all threads driven by the same loopConfig.
type suspendBudget struct {
	count          atomic.Int64
	bytes          atomic.Int64
	maxSnapshots   int
	maxBytes       int64
}

func newSuspendBudget(maxSnapshots int, maxBytes int64) *suspendBudget {
	if maxSnapshots <= 0 {
		maxSnapshots = defaultMaxSuspendSnapshots
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxSuspendBytes
	}
	return &suspendBudget{maxSnapshots: maxSnapshots, maxBytes: maxBytes}
}

// reserve admits a new suspension of the given size, or reports false if
// doing so would exceed the budget.
func (b *suspendBudget) reserve(size int64) bool {
	if b.count.Load() >= int64(b.maxSnapshots) || b.bytes.Load()+size > b.maxBytes {
		return false
	}
	b.count.Add(1)
	b.bytes.Add(size)
	return true
}

// release gives back budget for a resolved or deleted checkpoint.
func (b *suspendBudget) release(size int64) {
	b.count.Add(-1)
	b.bytes.Add(-size)
}

// estimateSnapshotSize returns a rough byte count for a message slice.
// Counts Content, ToolCall Args/Metadata, and message-level Metadata.
// Attachment.Base64 is shared rather than deep-copied by callers, so it's
// excluded from the estimate.
func estimateSnapshotSize(messages []ChatMessage) int64 {
	var size int64
	for _, m := range messages {
		size += int64(len(m.Content))
		for _, tc := range m.ToolCalls {
			size += int64(len(tc.Args))
			size += int64(len(tc.Metadata))
		}
		size += int64(len(m.Metadata))
	}
	return size
}

// snapshotMessages deep-copies messages so that ToolCalls, Attachments, and
// Metadata slices in the returned copy don't share backing arrays (or,
// for ToolCall.Args/Metadata, backing byte slices) with the original —
// required because the original slice keeps mutating after a checkpoint is
// saved. Attachment.Base64 itself is treated as immutable throughout the
// runtime, so its backing array is shared rather than duplicated, avoiding
// copying large binary content (images, PDFs, audio) on every checkpoint.
func snapshotMessages(messages []ChatMessage) []ChatMessage {
	snapshot := make([]ChatMessage, len(messages))
	for i, m := range messages {
		snapshot[i] = m
		if len(m.ToolCalls) > 0 {
			snapshot[i].ToolCalls = make([]ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				snapshot[i].ToolCalls[j] = tc
				if len(tc.Args) > 0 {
					snapshot[i].ToolCalls[j].Args = make(json.RawMessage, len(tc.Args))
					copy(snapshot[i].ToolCalls[j].Args, tc.Args)
				}
				if len(tc.Metadata) > 0 {
					snapshot[i].ToolCalls[j].Metadata = make(json.RawMessage, len(tc.Metadata))
					copy(snapshot[i].ToolCalls[j].Metadata, tc.Metadata)
				}
			}
		}
		if len(m.Attachments) > 0 {
			snapshot[i].Attachments = make([]Attachment, len(m.Attachments))
			copy(snapshot[i].Attachments, m.Attachments)
		}
		if len(m.Metadata) > 0 {
			snapshot[i].Metadata = make(json.RawMessage, len(m.Metadata))
			copy(snapshot[i].Metadata, m.Metadata)
		}
	}
	return snapshot
}

// --- Interrupt construction & resolution ---

// ErrNoCheckpointer is returned when an approval interrupt would be raised
// but the agent has no Checkpointer configured — there would be nowhere to
// persist the suspension, so the loop fails the call instead of silently
// losing the pending tool call.
var ErrNoCheckpointer = fmt.Errorf("agentcore: approval interrupt requires a configured Checkpointer")

// newApprovalInterrupt builds a pending InterruptApproval for the given
// tool call and step.
func newApprovalInterrupt(threadID string, tc ToolCall, step int) (Interrupt, error) {
	req, err := json.Marshal(ApprovalRequest{ToolCallID: tc.ID, ToolName: tc.Name, Args: tc.Args, Step: step})
	if err != nil {
		return Interrupt{}, err
	}
	return Interrupt{
		ID:        NewID(),
		ThreadID:  threadID,
		Type:      InterruptApproval,
		Request:   req,
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}

// suspendForApproval persists a checkpoint carrying a new pending approval
// interrupt for tc, enforcing the suspend budget first. Returns the
// interrupt so the caller can surface it as an Interrupted result.
func suspendForApproval(ctx context.Context, cp Checkpointer, namespace string, budget *suspendBudget, threadID string, messages []ChatMessage, state AgentState, tc ToolCall, step int) (Interrupt, error) {
	snapshot := snapshotMessages(messages)
	size := estimateSnapshotSize(snapshot)
	if budget != nil && !budget.reserve(size) {
		return Interrupt{}, fmt.Errorf("agentcore: suspend budget exceeded (max %d snapshots / %d bytes)", budget.maxSnapshots, budget.maxBytes)
	}

	interrupt, err := newApprovalInterrupt(threadID, tc, step)
	if err != nil {
		if budget != nil {
			budget.release(size)
		}
		return Interrupt{}, err
	}

	now := time.Now().UnixMilli()
	checkpoint := Checkpoint{
		ThreadID:   threadID,
		Step:       step,
		Messages:   snapshot,
		State:      state,
		Interrupts: []Interrupt{interrupt},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, ok, _ := cp.Load(ctx, namespace, threadID); ok {
		checkpoint.CreatedAt = existing.CreatedAt
	}
	if err := cp.Save(ctx, namespace, checkpoint); err != nil {
		if budget != nil {
			budget.release(size)
		}
		return Interrupt{}, err
	}
	return interrupt, nil
}

// RespondToInterrupt attaches response to the named interrupt within
// threadID's checkpoint and persists the update. The next `generate` call
// on the same thread observes the response and resumes the suspended step.
func RespondToInterrupt(ctx context.Context, cp Checkpointer, namespace, threadID, interruptID string, response json.RawMessage) error {
	checkpoint, ok, err := cp.Load(ctx, namespace, threadID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("agentcore: no checkpoint for thread %q", threadID)
	}

	found := false
	for i := range checkpoint.Interrupts {
		if checkpoint.Interrupts[i].ID == interruptID {
			checkpoint.Interrupts[i].Response = response
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("agentcore: interrupt %q not found on thread %q", interruptID, threadID)
	}

	checkpoint.UpdatedAt = time.Now().UnixMilli()
	return cp.Save(ctx, namespace, checkpoint)
}
