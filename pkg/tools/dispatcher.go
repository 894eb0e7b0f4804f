package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// nowFunc is swapped in tests to pin envelope timestamps.
var nowFunc = time.Now

// Call is one incoming tool invocation.
type Call struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// Result carries a handler's payload plus optional advisory guidance for
// the envelope meta.
type Result struct {
	Data     interface{}
	Guidance string
}

// ActionHandler executes one validated action. The raw arguments have
// already passed the action's schema.
type ActionHandler func(ctx context.Context, args json.RawMessage) (*Result, error)

// Action is one dispatchable operation of a manager tool. Params and
// Required describe the action's argument schema; the dispatcher closes
// the object, adds the action discriminator, and adds idempotency_key to
// mutating actions.
type Action struct {
	Name        string
	Description string
	Mutating    bool
	Required    []string
	Params      map[string]interface{}
	Handler     ActionHandler

	// Deadline overrides the dispatcher's call timeout when positive.
	Deadline time.Duration
}

// Manager is one manage_* tool: a named group of actions.
type Manager struct {
	Name        string
	Description string
	Actions     []Action
}

// Provider contributes one manager to a dispatcher.
type Provider interface {
	Manager() Manager
}

// Capability describes one registered tool for the capabilities listing.
type Capability struct {
	Tool        string   `json:"tool"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

// DispatcherConfig wires the facade's cross-cutting concerns.
type DispatcherConfig struct {
	Logger  observability.Logger
	Metrics observability.MetricsClient
	Tracer  observability.StartSpanFunc

	// CallTimeout bounds every action without its own deadline.
	CallTimeout time.Duration

	// IdempotencyWindow bounds exact-repeat replay for mutating actions
	// called with an idempotency_key.
	IdempotencyWindow time.Duration

	// RateLimit caps accepted calls per second; zero disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Logger == nil {
		c.Logger = observability.NewNoopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = observability.NewNoOpMetricsClient()
	}
	if c.Tracer == nil {
		c.Tracer = observability.NoopStartSpan
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.IdempotencyWindow <= 0 {
		c.IdempotencyWindow = 5 * time.Minute
	}
	return c
}

type actionEntry struct {
	action Action
	schema *gojsonschema.Schema
}

type managerEntry struct {
	def     Manager
	actions map[string]*actionEntry
}

// Dispatcher routes tool calls to registered managers: it validates
// arguments against the action schema, enforces deadlines and replay, and
// wraps every outcome in the envelope.
type Dispatcher struct {
	config      DispatcherConfig
	managers    map[string]*managerEntry
	idempotency repository.IdempotencyRepository
	limiter     *rate.Limiter
}

// NewDispatcher builds a dispatcher over the given providers. Schemas are
// compiled up front so a malformed action definition fails at startup,
// not on first call. The idempotency repository may be nil, disabling
// replay.
func NewDispatcher(config DispatcherConfig, idempotency repository.IdempotencyRepository, providers ...Provider) (*Dispatcher, error) {
	config = config.withDefaults()
	d := &Dispatcher{
		config:      config,
		managers:    make(map[string]*managerEntry),
		idempotency: idempotency,
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(config.RateLimit, burst)
	}
	for _, p := range providers {
		if err := d.Register(p); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register adds one provider's manager to the dispatcher.
func (d *Dispatcher) Register(provider Provider) error {
	def := provider.Manager()
	if def.Name == "" {
		return fmt.Errorf("manager has no name")
	}
	if _, exists := d.managers[def.Name]; exists {
		return fmt.Errorf("tool %s registered twice", def.Name)
	}
	entry := &managerEntry{def: def, actions: make(map[string]*actionEntry, len(def.Actions))}
	for _, a := range def.Actions {
		if a.Handler == nil {
			return fmt.Errorf("%s.%s has no handler", def.Name, a.Name)
		}
		if _, exists := entry.actions[a.Name]; exists {
			return fmt.Errorf("%s.%s registered twice", def.Name, a.Name)
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(actionSchema(a)))
		if err != nil {
			return fmt.Errorf("compile schema for %s.%s: %w", def.Name, a.Name, err)
		}
		entry.actions[a.Name] = &actionEntry{action: a, schema: compiled}
	}
	d.managers[def.Name] = entry
	return nil
}

// Capabilities lists every registered tool with its actions, sorted for
// deterministic output.
func (d *Dispatcher) Capabilities() []Capability {
	out := make([]Capability, 0, len(d.managers))
	for _, entry := range d.managers {
		actions := make([]string, 0, len(entry.actions))
		for name := range entry.actions {
			actions = append(actions, name)
		}
		sort.Strings(actions)
		out = append(out, Capability{
			Tool:        entry.def.Name,
			Description: entry.def.Description,
			Actions:     actions,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}

// Execute runs one tool call end to end and always returns an envelope.
// A request id already present on the context (stamped by the transport)
// is reused; otherwise one is minted here.
func (d *Dispatcher) Execute(ctx context.Context, call Call) *Envelope {
	requestID := observability.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = observability.WithRequestID(ctx, requestID)
	}

	if len(call.Arguments) == 0 {
		return d.fail(requestID, call.Tool, KindInvalid, "arguments must be a JSON object", nil)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(call.Arguments, &raw); err != nil {
		return d.fail(requestID, call.Tool, KindInvalid, "arguments must be a JSON object", nil)
	}
	actionName, _ := raw["action"].(string)
	operation := call.Tool + "." + actionName

	entry, ok := d.managers[call.Tool]
	if !ok {
		return d.fail(requestID, operation, KindNotFound, fmt.Sprintf("unknown tool %q", call.Tool), nil)
	}
	if actionName == "" {
		return d.fail(requestID, operation, KindInvalid, "action is required", nil)
	}
	ae, ok := entry.actions[actionName]
	if !ok {
		return d.fail(requestID, operation, KindInvalid, fmt.Sprintf("unknown action %q for %s", actionName, call.Tool),
			map[string]interface{}{"known_actions": knownActions(entry)})
	}

	if d.limiter != nil && !d.limiter.Allow() {
		return d.fail(requestID, operation, KindCapacity, "rate limit exceeded", nil)
	}

	if violations := d.validate(ae, call.Arguments); violations != nil {
		return d.fail(requestID, operation, KindInvalid, "arguments failed validation",
			map[string]interface{}{"violations": violations})
	}

	idemKey, _ := raw["idempotency_key"].(string)
	argsHash := hashArguments(call.Arguments)
	if env, done := d.replay(ctx, requestID, operation, ae, idemKey, argsHash); done {
		return env
	}

	timeout := d.config.CallTimeout
	if ae.action.Deadline > 0 {
		timeout = ae.action.Deadline
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = observability.WithOperation(ctx, operation)

	ctx, span := d.config.Tracer(ctx, "tools."+operation)
	defer span.End()
	span.SetAttribute("tool", call.Tool)
	span.SetAttribute("action", actionName)
	span.SetAttribute("request_id", requestID)

	start := nowFunc()
	result, err := ae.action.Handler(ctx, call.Arguments)
	elapsed := nowFunc().Sub(start)

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	d.config.Metrics.RecordCounter("tool_calls_total", 1, map[string]string{
		"tool": call.Tool, "action": actionName, "outcome": outcome,
	})
	d.config.Metrics.RecordHistogram("tool_call_seconds", elapsed.Seconds(), map[string]string{
		"tool": call.Tool, "action": actionName,
	})

	if err != nil {
		kind := KindOf(err)
		span.RecordError(err)
		if kind == KindInternal {
			d.config.Logger.Error("tool call failed", map[string]interface{}{
				"request_id": requestID,
				"operation":  operation,
				"error":      err.Error(),
			})
		} else {
			d.config.Logger.Debug("tool call rejected", map[string]interface{}{
				"request_id": requestID,
				"operation":  operation,
				"kind":       string(kind),
				"error":      err.Error(),
			})
		}
		return d.fail(requestID, operation, kind, messageOf(kind, err), nil)
	}

	if result == nil {
		result = &Result{}
	}
	d.remember(ctx, operation, ae, idemKey, argsHash, result.Data)
	return d.succeed(requestID, operation, result)
}

func knownActions(entry *managerEntry) []string {
	names := make([]string, 0, len(entry.actions))
	for name := range entry.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validate runs the compiled schema and returns the violation strings,
// or nil when the arguments pass.
func (d *Dispatcher) validate(ae *actionEntry, args json.RawMessage) []string {
	result, err := ae.schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return violations
}

// replay serves a stored response for an exact repeat of a mutating call
// within the idempotency window. A key reused with different arguments is
// a conflict, never a silent overwrite.
func (d *Dispatcher) replay(ctx context.Context, requestID, operation string, ae *actionEntry, key, argsHash string) (*Envelope, bool) {
	if d.idempotency == nil || !ae.action.Mutating || key == "" {
		return nil, false
	}
	stored, found, err := d.idempotency.Get(ctx, key)
	if err != nil {
		d.config.Logger.Warn("idempotency lookup failed", map[string]interface{}{
			"request_id": requestID,
			"operation":  operation,
			"error":      err.Error(),
		})
		return nil, false
	}
	if !found {
		return nil, false
	}
	storedOp, _ := stored["operation"].(string)
	storedHash, _ := stored["arguments_hash"].(string)
	if storedOp != operation || storedHash != argsHash {
		return d.fail(requestID, operation, KindConflict,
			"idempotency key reused with different arguments", nil), true
	}
	d.config.Logger.Info("tool call replayed", map[string]interface{}{
		"request_id": requestID,
		"operation":  operation,
	})
	return d.succeed(requestID, operation, &Result{Data: stored["data"]}), true
}

// remember stores the response of a keyed mutating call. Failures are
// logged and swallowed: replay is best effort, the write already
// committed.
func (d *Dispatcher) remember(ctx context.Context, operation string, ae *actionEntry, key, argsHash string, data interface{}) {
	if d.idempotency == nil || !ae.action.Mutating || key == "" {
		return
	}
	response := models.JSONMap{
		"operation":      operation,
		"arguments_hash": argsHash,
		"data":           data,
	}
	expires := nowFunc().Add(d.config.IdempotencyWindow)
	if err := d.idempotency.Put(ctx, key, operation, response, expires); err != nil {
		d.config.Logger.Warn("idempotency store failed", map[string]interface{}{
			"request_id": observability.GetRequestID(ctx),
			"operation":  operation,
			"error":      err.Error(),
		})
	}
}

func hashArguments(args json.RawMessage) string {
	sum := sha256.Sum256(args)
	return hex.EncodeToString(sum[:])
}

func (d *Dispatcher) succeed(requestID, operation string, result *Result) *Envelope {
	return &Envelope{
		Success: true,
		Data:    result.Data,
		Meta: Meta{
			RequestID:        requestID,
			Timestamp:        nowFunc().UTC(),
			Operation:        operation,
			WorkflowGuidance: result.Guidance,
		},
	}
}

func (d *Dispatcher) fail(requestID, operation string, kind ErrorKind, message string, details map[string]interface{}) *Envelope {
	return &Envelope{
		Success: false,
		Error:   &Error{Kind: kind, Message: message, Details: details},
		Meta: Meta{
			RequestID: requestID,
			Timestamp: nowFunc().UTC(),
			Operation: operation,
		},
	}
}
