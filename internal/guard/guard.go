// Package guard decides whether a bulk action may touch a record. Decisions
// come from a Rego policy whose data.tally.guard.deny set lists the reasons
// an action is refused.
package guard

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/tally/internal/telemetry"
	"github.com/yairfalse/tally/pkg/resource"
)

// ErrDenied is returned when the policy refuses an action.
var ErrDenied = errors.New("action denied by policy")

// ProtectedTag marks a record the default policy keeps away from
// destructive actions.
const ProtectedTag = "tally:protected"

const query = "data.tally.guard.deny"

//go:embed default.rego
var defaultPolicy string

// Input is the document a policy is evaluated against.
type Input struct {
	Action       string            `json:"action"`
	Destructive  bool              `json:"destructive"`
	CloudContext string            `json:"cloud_context"`
	Type         string            `json:"type"`
	ResourceID   string            `json:"resource_id"`
	Name         string            `json:"name"`
	Owner        string            `json:"owner,omitempty"`
	Tags         map[string]string `json:"tags"`
	Fields       map[string]any    `json:"fields,omitempty"`
	Refs         map[string]string `json:"refs,omitempty"`
}

// InputFor describes applying action to rec.
func InputFor(rec resource.LocalRecord, action resource.Action) Input {
	tags := rec.Tags.Map()
	if tags == nil {
		tags = map[string]string{}
	}
	return Input{
		Action:       string(action),
		Destructive:  action.Destructive(),
		CloudContext: rec.CloudContext,
		Type:         string(rec.Type),
		ResourceID:   rec.ResourceID,
		Name:         rec.Name,
		Owner:        rec.Owner,
		Tags:         tags,
		Fields:       rec.Fields,
		Refs:         rec.Refs,
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

// Err returns nil for an allowed decision and an ErrDenied wrap otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDenied, strings.Join(d.Reasons, "; "))
}

// Guard evaluates a compiled policy.
type Guard struct {
	name   string
	query  rego.PreparedEvalQuery
	logger *telemetry.Logger
	tracer trace.Tracer
}

// New compiles the built-in policy.
func New(ctx context.Context) (*Guard, error) {
	return Compile(ctx, "default.rego", defaultPolicy)
}

// Load compiles the policy at path, or the built-in one when path is empty.
func Load(ctx context.Context, path string) (*Guard, error) {
	if path == "" {
		return New(ctx)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied policy
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Compile(ctx, path, string(data))
}

// Compile prepares module for evaluation.
func Compile(ctx context.Context, name, module string) (*Guard, error) {
	prepared, err := rego.New(
		rego.Query(query),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", name, err)
	}

	g := &Guard{
		name:   name,
		query:  prepared,
		logger: telemetry.NewLogger("guard"),
		tracer: otel.Tracer("tally.guard"),
	}
	g.logger.Debug().Str("policy", name).Msg("policy compiled")
	return g, nil
}

// Evaluate runs the policy for in. A policy that does not define the deny
// set allows everything.
func (g *Guard) Evaluate(ctx context.Context, in Input) (Decision, error) {
	ctx, span := g.tracer.Start(ctx, "guard.Evaluate",
		trace.WithAttributes(
			attribute.String("tally.action", in.Action),
			attribute.String("tally.resource_id", in.ResourceID),
		))
	defer span.End()

	results, err := g.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		span.RecordError(err)
		return Decision{}, fmt.Errorf("evaluate policy %s: %w", g.name, err)
	}

	reasons, err := denyReasons(results)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate policy %s: %w", g.name, err)
	}

	d := Decision{Allowed: len(reasons) == 0, Reasons: reasons}
	span.SetAttributes(attribute.Bool("tally.allowed", d.Allowed))
	if !d.Allowed {
		g.logger.WithContext(ctx).Info().
			Str("action", in.Action).
			Str("resource_id", in.ResourceID).
			Strs("reasons", reasons).
			Msg("action denied")
	}
	return d, nil
}

// Check evaluates in and returns ErrDenied when the action is refused.
func (g *Guard) Check(ctx context.Context, in Input) error {
	d, err := g.Evaluate(ctx, in)
	if err != nil {
		return err
	}
	return d.Err()
}

func denyReasons(results rego.ResultSet) ([]string, error) {
	var reasons []string
	for _, res := range results {
		for _, expr := range res.Expressions {
			values, ok := expr.Value.([]any)
			if !ok {
				return nil, fmt.Errorf("deny must be a set of strings, got %T", expr.Value)
			}
			for _, v := range values {
				reasons = append(reasons, fmt.Sprint(v))
			}
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}
