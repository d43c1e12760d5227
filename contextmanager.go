package agentcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// TokenBudget reports a conversation's token usage against a limit.
// IsActual is true when CurrentTokens came from the model's last reported
// usage for this exact message list, false when it's estimated by a
// TokenCounter.
type TokenBudget struct {
	CurrentTokens int
	MaxTokens     int
	Usage         float64
	Remaining     int
	IsActual      bool
}

// Fraction returns Usage, the same CurrentTokens/MaxTokens ratio already
// carried on the struct (0 if MaxTokens is unset).
func (b TokenBudget) Fraction() float64 {
	return b.Usage
}

// TokenCounter estimates the token cost of a message slice. Implementations
// are pure functions of message content; ContextManager caches results by
// fingerprint so a counter is never asked to re-score unchanged history.
type TokenCounter interface {
	Count(messages []ChatMessage) int
}

// approximateTokenCounter is the default heuristic counter: ~4 characters
// per token for text, fixed costs for rich parts, plus a small per-message
// structural overhead.
type approximateTokenCounter struct{}

const (
	approxCharsPerToken  = 4
	approxTokensPerImage = 1000
	approxTokensPerFile  = 500
	approxMessageOverhead = 4
)

func (approximateTokenCounter) Count(messages []ChatMessage) int {
	var total int
	for _, m := range messages {
		total += approxMessageOverhead
		total += len([]rune(m.Content)) / approxCharsPerToken
		for _, a := range m.Attachments {
			if strings.HasPrefix(a.MimeType, "image/") {
				total += approxTokensPerImage
			} else {
				total += approxTokensPerFile
			}
		}
	}
	return total
}

// customTokenCounter wraps a caller-provided per-message scoring function.
type customTokenCounter struct {
	countFn  func(content string) int
	overhead int
}

func (c customTokenCounter) Count(messages []ChatMessage) int {
	var total int
	for _, m := range messages {
		total += c.overhead
		total += c.countFn(m.Content)
	}
	return total
}

// NewCustomTokenCounter builds a TokenCounter from a caller's per-message
// text scorer, with a fixed structural overhead added per message.
func NewCustomTokenCounter(countFn func(content string) int, overhead int) TokenCounter {
	return customTokenCounter{countFn: countFn, overhead: overhead}
}

// fingerprint hashes the structural shape of a message slice (role, text,
// and rich-part identity) so repeated budget queries over unchanged
// history hit the cache instead of re-scanning every message.
func fingerprint(messages []ChatMessage) string {
	h := sha256.New()
	for _, m := range messages {
		fmt.Fprintf(h, "%s\x00%s\x00", m.Role, m.Content)
		for _, a := range m.Attachments {
			fmt.Fprintf(h, "%s\x00%s\x00", a.MimeType, a.Base64)
		}
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type budgetCache struct {
	mu      sync.Mutex
	entries map[string]int
}

func newBudgetCache() *budgetCache {
	return &budgetCache{entries: make(map[string]int)}
}

func (c *budgetCache) get(fp string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[fp]
	return n, ok
}

func (c *budgetCache) set(fp string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) > 256 {
		c.entries = make(map[string]int, 256)
	}
	c.entries[fp] = n
}

// CompactReason explains why ShouldCompact decided to trigger.
type CompactReason string

const (
	ReasonErrorFallback  CompactReason = "error_fallback"
	ReasonHardCap        CompactReason = "hard_cap"
	ReasonGrowthRate     CompactReason = "growth_rate"
	ReasonTokenThreshold CompactReason = "token_threshold"
	ReasonNone           CompactReason = ""
)

// CompactDecision is the result of evaluating the triggering policy.
type CompactDecision struct {
	Trigger bool
	Reason  CompactReason
}

// SummarizationStrategy selects how process compacts old messages.
type SummarizationStrategy int

const (
	StrategyRollup SummarizationStrategy = iota
	StrategyTiered
	StrategyStructured
)

// StructuredSummary is the sidecar payload attached to a summary message
// produced by StrategyStructured.
type StructuredSummary struct {
	Decisions     []string `json:"decisions,omitempty"`
	Preferences   []string `json:"preferences,omitempty"`
	CurrentState  string   `json:"currentState,omitempty"`
	OpenQuestions []string `json:"openQuestions,omitempty"`
	References    []string `json:"references,omitempty"`
}

type contextManagerConfig struct {
	counter  TokenCounter
	limit    int
	overhead int

	hardCapThreshold           float64
	tokenThreshold             float64
	enableGrowthRatePrediction bool
	enableErrorFallback        bool
	shouldCompactOverride      func(TokenBudget, []ChatMessage) CompactDecision

	keepMessageCount int
	strategy         SummarizationStrategy
	messagesPerTier  int
	maxSummaryTiers  int

	debounceDelay   time.Duration
	maxPendingTasks int

	hooks  *HookRegistry
	logger *slog.Logger
}

// ContextManagerOption configures a ContextManager built by NewContextManager.
type ContextManagerOption func(*contextManagerConfig)

func WithTokenCounter(c TokenCounter) ContextManagerOption {
	return func(cfg *contextManagerConfig) { cfg.counter = c }
}

func WithTokenLimit(limit int) ContextManagerOption {
	return func(cfg *contextManagerConfig) { cfg.limit = limit }
}

func WithCompactThresholds(tokenThreshold, hardCapThreshold float64) ContextManagerOption {
	return func(cfg *contextManagerConfig) {
		cfg.tokenThreshold = tokenThreshold
		cfg.hardCapThreshold = hardCapThreshold
	}
}

func WithGrowthRatePrediction(enable bool) ContextManagerOption {
	return func(cfg *contextManagerConfig) { cfg.enableGrowthRatePrediction = enable }
}

func WithContextErrorFallback(enable bool) ContextManagerOption {
	return func(cfg *contextManagerConfig) { cfg.enableErrorFallback = enable }
}

func WithShouldCompact(fn func(TokenBudget, []ChatMessage) CompactDecision) ContextManagerOption {
	return func(cfg *contextManagerConfig) { cfg.shouldCompactOverride = fn }
}

func WithKeepMessageCount(n int) ContextManagerOption {
	return func(cfg *contextManagerConfig) { cfg.keepMessageCount = n }
}

func WithSummarizationStrategy(s SummarizationStrategy) ContextManagerOption {
	return func(cfg *contextManagerConfig) { cfg.strategy = s }
}

func WithTieredSummarization(messagesPerTier, maxTiers int) ContextManagerOption {
	return func(cfg *contextManagerConfig) {
		cfg.strategy = StrategyTiered
		cfg.messagesPerTier = messagesPerTier
		cfg.maxSummaryTiers = maxTiers
	}
}

func WithBackgroundCompaction(debounceDelay time.Duration, maxPendingTasks int) ContextManagerOption {
	return func(cfg *contextManagerConfig) {
		cfg.debounceDelay = debounceDelay
		cfg.maxPendingTasks = maxPendingTasks
	}
}

func WithContextHooks(h *HookRegistry) ContextManagerOption {
	return func(cfg *contextManagerConfig) { cfg.hooks = h }
}

func WithContextLogger(l *slog.Logger) ContextManagerOption {
	return func(cfg *contextManagerConfig) { cfg.logger = l }
}

func defaultContextManagerConfig() contextManagerConfig {
	return contextManagerConfig{
		counter:          approximateTokenCounter{},
		limit:            128_000,
		hardCapThreshold: 0.95,
		tokenThreshold:   0.8,
		keepMessageCount: 6,
		strategy:         StrategyRollup,
		messagesPerTier:  4,
		maxSummaryTiers:  3,
		maxPendingTasks:  1,
		hooks:            NewHookRegistry(),
		logger:           nopLogger,
	}
}

// compactionTaskStatus mirrors the scheduled/running/completed/failed/
// cancelled lifecycle of a background compaction task.
type compactionTaskStatus string

const (
	CompactionScheduled compactionTaskStatus = "scheduled"
	CompactionRunning   compactionTaskStatus = "running"
	CompactionCompleted compactionTaskStatus = "completed"
	CompactionFailed    compactionTaskStatus = "failed"
	CompactionCancelled compactionTaskStatus = "cancelled"
)

// CompactionTask is the observable handle for a scheduled background
// compaction.
type CompactionTask struct {
	ID     string
	Status compactionTaskStatus
	Result []ChatMessage
}

type compactionTask struct {
	mu     sync.Mutex
	id     string
	status compactionTaskStatus
	result []ChatMessage
	timer  *time.Timer
}

func (t *compactionTask) snapshot() CompactionTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return CompactionTask{ID: t.id, Status: t.status, Result: t.result}
}

// ContextManager keeps a conversation within a token budget. One instance
// is created per thread/session; pins, pending tasks, and the failure
// counter are all scoped to that one conversation.
type ContextManager struct {
	cfg   contextManagerConfig
	cache *budgetCache

	mu                  sync.Mutex
	pinned              map[int]string
	priorUsage          []int
	errorFallbackNoted  bool
	consecutiveFailures int
	backgroundDisabled  bool
	pending             *compactionTask
	taskSeq             int
	actualFingerprint   string
	actualTokens        int
}

// NewContextManager builds a ContextManager with the given options applied
// over sensible defaults (approximate counter, 128k limit, rollup strategy,
// 0.8/0.95 soft/hard thresholds).
func NewContextManager(opts ...ContextManagerOption) *ContextManager {
	cfg := defaultContextManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ContextManager{
		cfg:    cfg,
		cache:  newBudgetCache(),
		pinned: make(map[int]string),
	}
}

// GetBudget returns the token usage for messages: the model's actual
// reported usage when NotifyActualUsage was last called for this exact
// message list, otherwise an estimate, served from cache when the message
// shape (role + content + rich-part identity) hasn't changed since the
// last call.
func (cm *ContextManager) GetBudget(messages []ChatMessage) TokenBudget {
	fp := fingerprint(messages)

	cm.mu.Lock()
	if fp != "" && fp == cm.actualFingerprint {
		n := cm.actualTokens
		cm.mu.Unlock()
		return cm.newBudget(n, true)
	}
	cm.mu.Unlock()

	if n, ok := cm.cache.get(fp); ok {
		return cm.newBudget(n, false)
	}
	n := cm.cfg.counter.Count(messages)
	cm.cache.set(fp, n)

	cm.mu.Lock()
	cm.priorUsage = append(cm.priorUsage, n)
	if len(cm.priorUsage) > 8 {
		cm.priorUsage = cm.priorUsage[len(cm.priorUsage)-8:]
	}
	cm.mu.Unlock()

	return cm.newBudget(n, false)
}

// newBudget fills in Usage/Remaining for a token count against the
// configured limit.
func (cm *ContextManager) newBudget(n int, actual bool) TokenBudget {
	limit := cm.cfg.limit
	var usage float64
	if limit > 0 {
		usage = float64(n) / float64(limit)
	}
	remaining := limit - n
	if remaining < 0 {
		remaining = 0
	}
	return TokenBudget{CurrentTokens: n, MaxTokens: limit, Usage: usage, Remaining: remaining, IsActual: actual}
}

// NotifyActualUsage records the model's reported input-token usage for the
// exact message list that was just sent, so the next GetBudget call against
// those same messages reports IsActual instead of an estimate.
func (cm *ContextManager) NotifyActualUsage(messages []ChatMessage, usage Usage) {
	fp := fingerprint(messages)
	cm.mu.Lock()
	cm.actualFingerprint = fp
	cm.actualTokens = usage.InputTokens
	cm.mu.Unlock()
}

// Pin marks index as surviving any future compaction. reason is recorded
// for observability only.
func (cm *ContextManager) Pin(index int, reason string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.pinned[index] = reason
}

func (cm *ContextManager) Unpin(index int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.pinned, index)
}

func (cm *ContextManager) IsPinned(index int) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	_, ok := cm.pinned[index]
	return ok
}

// NotifyContextLengthError records that the last generate call failed with
// a context-length error, arming the error_fallback trigger for the next
// ShouldCompact evaluation (if enableErrorFallback is set).
func (cm *ContextManager) NotifyContextLengthError() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.errorFallbackNoted = true
}

// growthPrediction extrapolates the next turn's usage from the last two
// observed budgets. Returns false if fewer than two samples exist.
func (cm *ContextManager) growthPrediction() (predicted int, ok bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	n := len(cm.priorUsage)
	if n < 2 {
		return 0, false
	}
	delta := cm.priorUsage[n-1] - cm.priorUsage[n-2]
	if delta < 0 {
		delta = 0
	}
	return cm.priorUsage[n-1] + delta, true
}

// ShouldCompact evaluates the triggering policy in spec order: error
// fallback, hard cap, predicted growth, token threshold. A caller-supplied
// override replaces steps 2-4 entirely.
func (cm *ContextManager) ShouldCompact(messages []ChatMessage) CompactDecision {
	budget := cm.GetBudget(messages)

	cm.mu.Lock()
	errorNoted := cm.errorFallbackNoted
	cm.errorFallbackNoted = false
	cm.mu.Unlock()

	if errorNoted && cm.cfg.enableErrorFallback {
		return CompactDecision{Trigger: true, Reason: ReasonErrorFallback}
	}

	if cm.cfg.shouldCompactOverride != nil {
		return cm.cfg.shouldCompactOverride(budget, messages)
	}

	if budget.Fraction() >= cm.cfg.hardCapThreshold {
		return CompactDecision{Trigger: true, Reason: ReasonHardCap}
	}
	if cm.cfg.enableGrowthRatePrediction {
		if predicted, ok := cm.growthPrediction(); ok && cm.cfg.limit > 0 {
			if float64(predicted)/float64(cm.cfg.limit) > cm.cfg.hardCapThreshold {
				return CompactDecision{Trigger: true, Reason: ReasonGrowthRate}
			}
		}
	}
	if budget.Fraction() >= cm.cfg.tokenThreshold {
		return CompactDecision{Trigger: true, Reason: ReasonTokenThreshold}
	}
	return CompactDecision{Trigger: false, Reason: ReasonNone}
}

// Process applies the Context Manager's compaction policy to messages,
// dispatching to the synchronous or background path depending on
// configuration. It returns the input unchanged if no compaction is
// triggered, if a background compaction is still in flight, or if
// compaction fails (degrade, don't drop history).
func (cm *ContextManager) Process(ctx context.Context, provider Provider, messages []ChatMessage) []ChatMessage {
	decision := cm.ShouldCompact(messages)
	if !decision.Trigger {
		return messages
	}

	cm.mu.Lock()
	backgroundDisabled := cm.backgroundDisabled
	cm.mu.Unlock()

	if cm.cfg.debounceDelay > 0 && !backgroundDisabled {
		return cm.processBackground(ctx, provider, messages, decision)
	}
	return cm.compactSync(ctx, provider, messages, decision)
}

// processBackground implements the scheduler contract: the first trigger
// schedules a debounced task and returns messages unchanged; once that
// task completes, the next Process call applies its result atomically.
// Rapid triggers while a task is pending coalesce onto the same task.
func (cm *ContextManager) processBackground(ctx context.Context, provider Provider, messages []ChatMessage, decision CompactDecision) []ChatMessage {
	cm.mu.Lock()
	task := cm.pending
	cm.mu.Unlock()

	if task != nil {
		snap := task.snapshot()
		switch snap.Status {
		case CompactionCompleted:
			cm.mu.Lock()
			cm.pending = nil
			cm.mu.Unlock()
			return snap.Result
		case CompactionFailed:
			cm.mu.Lock()
			cm.pending = nil
			cm.mu.Unlock()
			return messages
		default: // scheduled or running: coalesce, no new task
			return messages
		}
	}

	cm.mu.Lock()
	cm.taskSeq++
	id := fmt.Sprintf("compact-%d", cm.taskSeq)
	t := &compactionTask{id: id, status: CompactionScheduled}
	cm.pending = t
	cm.mu.Unlock()

	t.timer = time.AfterFunc(cm.cfg.debounceDelay, func() {
		cm.runCompactionTask(context.Background(), provider, messages, decision, t)
	})
	cm.cfg.logger.Info("context compaction scheduled", "task_id", id, "reason", decision.Reason)
	return messages
}

func (cm *ContextManager) runCompactionTask(ctx context.Context, provider Provider, messages []ChatMessage, decision CompactDecision, t *compactionTask) {
	t.mu.Lock()
	t.status = CompactionRunning
	t.mu.Unlock()

	result, err := cm.compact(ctx, provider, messages, decision)
	if err != nil {
		t.mu.Lock()
		t.status = CompactionFailed
		t.mu.Unlock()
		cm.recordFailure(err)
		return
	}

	t.mu.Lock()
	t.status = CompactionCompleted
	t.result = result
	t.mu.Unlock()
	cm.resetFailures()
}

// compactSync runs compaction inline and blocks the caller.
func (cm *ContextManager) compactSync(ctx context.Context, provider Provider, messages []ChatMessage, decision CompactDecision) []ChatMessage {
	result, err := cm.compact(ctx, provider, messages, decision)
	if err != nil {
		cm.recordFailure(err)
		return messages
	}
	cm.resetFailures()
	return result
}

// recordFailure fires PostCompact for the failure and disables background
// compaction for this session after 3 consecutive failures, falling back
// to synchronous mode (degrade gracefully, per the session's established
// philosophy in compressMessages).
func (cm *ContextManager) recordFailure(err error) {
	cm.cfg.logger.Warn("context compaction failed", "error", err)
	cm.cfg.hooks.RunPostCompact(context.Background(), nil) //nolint:errcheck

	cm.mu.Lock()
	cm.consecutiveFailures++
	if cm.consecutiveFailures >= 3 {
		cm.backgroundDisabled = true
		cm.cfg.logger.Warn("background compaction disabled after repeated failures")
	}
	cm.mu.Unlock()
}

func (cm *ContextManager) resetFailures() {
	cm.mu.Lock()
	cm.consecutiveFailures = 0
	cm.mu.Unlock()
}

// compact dispatches to the configured summarization strategy after firing
// PreCompact.
func (cm *ContextManager) compact(ctx context.Context, provider Provider, messages []ChatMessage, decision CompactDecision) ([]ChatMessage, error) {
	filtered, err := cm.cfg.hooks.RunPreCompact(ctx, messages)
	if err == nil {
		messages = filtered
	}

	switch cm.cfg.strategy {
	case StrategyTiered:
		return cm.compactTiered(ctx, provider, messages)
	case StrategyStructured:
		return cm.compactStructured(ctx, provider, messages)
	default:
		return cm.compactRollup(ctx, provider, messages)
	}
}

// splitForCompaction returns the index boundary separating messages old
// enough to summarize (before keepMessageCount trailing messages) from the
// messages to preserve as-is. Pinned indices below the boundary are kept
// in place rather than folded into the summary.
func (cm *ContextManager) splitForCompaction(messages []ChatMessage) (toSummarize, preserveFrom int) {
	preserveFrom = len(messages) - cm.cfg.keepMessageCount
	if preserveFrom < 0 {
		preserveFrom = 0
	}
	return preserveFrom, preserveFrom
}

func (cm *ContextManager) summarize(ctx context.Context, provider Provider, prompt, content string) (string, error) {
	resp, err := provider.Chat(ctx, ChatRequest{Messages: []ChatMessage{
		SystemMessage(prompt),
		UserMessage(content),
	}})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

const summaryPrefix = "[Previous conversation summary]\n"

// compactRollup replaces every unpinned message older than the trailing
// keepMessageCount with a single summary message.
func (cm *ContextManager) compactRollup(ctx context.Context, provider Provider, messages []ChatMessage) ([]ChatMessage, error) {
	boundary, _ := cm.splitForCompaction(messages)
	if boundary == 0 {
		return messages, nil
	}

	var old strings.Builder
	var folded []int
	for i := 0; i < boundary; i++ {
		if cm.IsPinned(i) {
			continue
		}
		old.WriteString(roleLabel(messages[i]))
		old.WriteString(messages[i].Content)
		old.WriteString("\n---\n")
		folded = append(folded, i)
	}
	if len(folded) == 0 {
		return messages, nil
	}

	summary, err := cm.summarize(ctx, provider,
		"Summarize the following conversation history concisely. Preserve key facts, decisions, and open questions.",
		old.String())
	if err != nil {
		return nil, err
	}

	return foldInto(messages, folded, summaryPrefix+summary), nil
}

// compactTiered consolidates summaries of summaries once messagesPerTier
// accumulate at a given tier, up to maxSummaryTiers.
func (cm *ContextManager) compactTiered(ctx context.Context, provider Provider, messages []ChatMessage) ([]ChatMessage, error) {
	boundary, _ := cm.splitForCompaction(messages)
	if boundary == 0 {
		return messages, nil
	}

	tiers := make(map[int][]int) // tier -> message indices
	for i := 0; i < boundary; i++ {
		if cm.IsPinned(i) {
			continue
		}
		tiers[tierOf(messages[i])] = append(tiers[tierOf(messages[i])], i)
	}

	result := messages
	for tier := 0; tier < cm.cfg.maxSummaryTiers; tier++ {
		group := tiers[tier]
		if len(group) < cm.cfg.messagesPerTier {
			continue
		}
		var content strings.Builder
		for _, idx := range group {
			content.WriteString(result[idx].Content)
			content.WriteString("\n---\n")
		}
		summary, err := cm.summarize(ctx, provider,
			fmt.Sprintf("Consolidate these tier-%d summaries into a single tier-%d summary, preserving the most important facts.", tier, tier+1),
			content.String())
		if err != nil {
			return nil, err
		}
		result = foldInto(result, group, fmt.Sprintf("%s(tier %d)\n%s", summaryPrefix, tier+1, summary))
	}
	return result, nil
}

// tierOf reports the summary tier of a message (0 for ordinary messages, or
// the tier recorded in a prior summary's prefix).
func tierOf(m ChatMessage) int {
	if !strings.HasPrefix(m.Content, summaryPrefix) {
		return 0
	}
	var tier int
	if _, err := fmt.Sscanf(m.Content[len(summaryPrefix):], "(tier %d)", &tier); err == nil {
		return tier
	}
	return 1
}

// compactStructured prompts the summarizer for a structured JSON digest and
// stores both a markdown rendering and the raw JSON alongside the message.
func (cm *ContextManager) compactStructured(ctx context.Context, provider Provider, messages []ChatMessage) ([]ChatMessage, error) {
	boundary, _ := cm.splitForCompaction(messages)
	if boundary == 0 {
		return messages, nil
	}

	var old strings.Builder
	var folded []int
	for i := 0; i < boundary; i++ {
		if cm.IsPinned(i) {
			continue
		}
		old.WriteString(roleLabel(messages[i]))
		old.WriteString(messages[i].Content)
		old.WriteString("\n---\n")
		folded = append(folded, i)
	}
	if len(folded) == 0 {
		return messages, nil
	}

	raw, err := cm.summarize(ctx, provider,
		`Summarize the conversation as JSON with fields: decisions, preferences, currentState, openQuestions, references (arrays of strings, currentState a string). Respond with JSON only.`,
		old.String())
	if err != nil {
		return nil, err
	}

	var structured StructuredSummary
	if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &structured); jsonErr != nil {
		// Degrade to a plain rollup summary rather than failing outright.
		return foldInto(messages, folded, summaryPrefix+raw), nil
	}

	md := renderStructuredSummary(structured)
	summaryMsg := UserMessage(summaryPrefix + md)
	summaryMsg.StructuredSummary = &structured
	return foldIntoMessage(messages, folded, summaryMsg), nil
}

func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func renderStructuredSummary(s StructuredSummary) string {
	var b strings.Builder
	writeSection := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("**" + title + "**\n")
		for _, it := range items {
			b.WriteString("- " + it + "\n")
		}
	}
	if s.CurrentState != "" {
		b.WriteString("**Current state**\n" + s.CurrentState + "\n")
	}
	writeSection("Decisions", s.Decisions)
	writeSection("Preferences", s.Preferences)
	writeSection("Open questions", s.OpenQuestions)
	writeSection("References", s.References)
	return b.String()
}

func roleLabel(m ChatMessage) string {
	if m.Role == "" {
		return ""
	}
	return "[" + m.Role + "] "
}

// foldInto replaces the messages at indices with a single plain-text
// summary message inserted at the position of the first folded index.
func foldInto(messages []ChatMessage, indices []int, summaryContent string) []ChatMessage {
	return foldIntoMessage(messages, indices, UserMessage(summaryContent))
}

func foldIntoMessage(messages []ChatMessage, indices []int, summaryMsg ChatMessage) []ChatMessage {
	removeSet := make(map[int]bool, len(indices))
	for _, idx := range indices {
		removeSet[idx] = true
	}
	out := make([]ChatMessage, 0, len(messages))
	inserted := false
	for i, m := range messages {
		if removeSet[i] {
			if !inserted {
				out = append(out, summaryMsg)
				inserted = true
			}
			continue
		}
		out = append(out, m)
	}
	return out
}
