package trust

import (
	"fmt"
	"sort"
	"strings"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

// ActionContext is the action/resource pair a constraint set is checked
// against. Now must be supplied by the caller; the evaluator never reads the
// wall clock.
type ActionContext struct {
	Action   string
	Resource string
	Amount   float64
	Now      time.Time
}

type ConstraintViolation struct {
	ConstraintID string `json:"constraint_id"`
	Type         string `json:"type"`
	Reason       string `json:"reason"`
}

// EvaluateConstraints checks every constraint against the context and returns
// all violations. Constraints that do not apply to the context's resource are
// skipped; unknown constraint types fail closed.
func EvaluateConstraints(constraints []trustschema.Constraint, ctx ActionContext) []ConstraintViolation {
	var violations []ConstraintViolation
	for _, constraint := range constraints {
		if reason := evaluateConstraint(constraint, ctx); reason != "" {
			violations = append(violations, ConstraintViolation{
				ConstraintID: constraint.ConstraintID,
				Type:         constraint.Type,
				Reason:       reason,
			})
		}
	}
	return violations
}

func evaluateConstraint(constraint trustschema.Constraint, ctx ActionContext) string {
	switch constraint.Type {
	case trustschema.ConstraintResourceLimit:
		if constraint.Resource != "" && constraint.Resource != ctx.Resource {
			return ""
		}
		if ctx.Amount > constraint.MaxValue {
			return fmt.Sprintf("amount %g exceeds limit %g", ctx.Amount, constraint.MaxValue)
		}
		return ""
	case trustschema.ConstraintTimeWindow:
		start, end, err := parseWindow(constraint)
		if err != nil {
			return err.Error()
		}
		minute := ctx.Now.UTC().Hour()*60 + ctx.Now.UTC().Minute()
		if !withinWindow(minute, start, end) {
			return fmt.Sprintf("time %02d:%02d outside window %s-%s",
				ctx.Now.UTC().Hour(), ctx.Now.UTC().Minute(), constraint.WindowStart, constraint.WindowEnd)
		}
		return ""
	case trustschema.ConstraintDataScope:
		if len(constraint.ScopePrefixes) == 0 {
			return "data scope constraint has no prefixes"
		}
		for _, prefix := range constraint.ScopePrefixes {
			if strings.HasPrefix(ctx.Resource, prefix) {
				return ""
			}
		}
		return fmt.Sprintf("resource %q outside data scope", ctx.Resource)
	case trustschema.ConstraintActionRestriction:
		if len(constraint.AllowedActions) == 0 {
			return "action restriction has no allowed actions"
		}
		for _, action := range constraint.AllowedActions {
			if action == "*" || action == ctx.Action {
				return ""
			}
		}
		return fmt.Sprintf("action %q not allowed", ctx.Action)
	default:
		return fmt.Sprintf("unknown constraint type: %q", constraint.Type)
	}
}

// ConstraintsTighten is the single authoritative tightening check: child must
// retain every parent constraint in equal-or-stricter form. Children may add
// constraints; they may never drop or widen one. Returns nil when the child
// set is a valid tightening of the parent set.
func ConstraintsTighten(parent, child []trustschema.Constraint) error {
	childByID := make(map[string]trustschema.Constraint, len(child))
	for _, constraint := range child {
		childByID[constraint.ConstraintID] = constraint
	}
	for _, parentConstraint := range parent {
		childConstraint, ok := childByID[parentConstraint.ConstraintID]
		if !ok {
			return fmt.Errorf("constraint %s removed", parentConstraint.ConstraintID)
		}
		if childConstraint.Type != parentConstraint.Type {
			return fmt.Errorf("constraint %s changed type from %s to %s",
				parentConstraint.ConstraintID, parentConstraint.Type, childConstraint.Type)
		}
		if err := atLeastAsStrict(parentConstraint, childConstraint); err != nil {
			return fmt.Errorf("constraint %s loosened: %w", parentConstraint.ConstraintID, err)
		}
	}
	return nil
}

func atLeastAsStrict(parent, child trustschema.Constraint) error {
	switch parent.Type {
	case trustschema.ConstraintResourceLimit:
		if child.Resource != parent.Resource {
			return fmt.Errorf("resource changed from %q to %q", parent.Resource, child.Resource)
		}
		if child.MaxValue > parent.MaxValue {
			return fmt.Errorf("limit raised from %g to %g", parent.MaxValue, child.MaxValue)
		}
		return nil
	case trustschema.ConstraintTimeWindow:
		parentStart, parentEnd, err := parseWindow(parent)
		if err != nil {
			return err
		}
		childStart, childEnd, err := parseWindow(child)
		if err != nil {
			return err
		}
		if childStart < parentStart || childEnd > parentEnd {
			return fmt.Errorf("window %s-%s exceeds %s-%s",
				child.WindowStart, child.WindowEnd, parent.WindowStart, parent.WindowEnd)
		}
		return nil
	case trustschema.ConstraintDataScope:
		for _, childPrefix := range child.ScopePrefixes {
			if !coveredByAny(childPrefix, parent.ScopePrefixes) {
				return fmt.Errorf("scope prefix %q outside parent scope", childPrefix)
			}
		}
		if len(child.ScopePrefixes) == 0 {
			return fmt.Errorf("scope emptied, which would remove the restriction")
		}
		return nil
	case trustschema.ConstraintActionRestriction:
		if len(child.AllowedActions) == 0 {
			return fmt.Errorf("allowed actions emptied, which would remove the restriction")
		}
		parentAllowsAll := false
		parentSet := make(map[string]struct{}, len(parent.AllowedActions))
		for _, action := range parent.AllowedActions {
			if action == "*" {
				parentAllowsAll = true
			}
			parentSet[action] = struct{}{}
		}
		if parentAllowsAll {
			return nil
		}
		for _, action := range child.AllowedActions {
			if _, ok := parentSet[action]; !ok {
				return fmt.Errorf("action %q not allowed by parent", action)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown constraint type: %q", parent.Type)
	}
}

func coveredByAny(prefix string, parents []string) bool {
	for _, parent := range parents {
		if strings.HasPrefix(prefix, parent) {
			return true
		}
	}
	return false
}

func parseWindow(constraint trustschema.Constraint) (int, int, error) {
	start, err := parseClockMinutes(constraint.WindowStart)
	if err != nil {
		return 0, 0, fmt.Errorf("window start: %w", err)
	}
	end, err := parseClockMinutes(constraint.WindowEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("window end: %w", err)
	}
	if end < start {
		return 0, 0, fmt.Errorf("window end %s before start %s", constraint.WindowEnd, constraint.WindowStart)
	}
	return start, end, nil
}

func parseClockMinutes(value string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

func withinWindow(minute, start, end int) bool {
	return minute >= start && minute <= end
}

// mergeStrictest folds incoming constraints into a by-id set, keeping the
// stricter version when the same constraint id appears more than once.
func mergeStrictest(merged map[string]trustschema.Constraint, incoming []trustschema.Constraint) {
	for _, constraint := range incoming {
		existing, ok := merged[constraint.ConstraintID]
		if !ok {
			merged[constraint.ConstraintID] = constraint
			continue
		}
		// Incoming replaces existing only when it is a valid tightening of it.
		if existing.Type == constraint.Type && atLeastAsStrict(existing, constraint) == nil {
			merged[constraint.ConstraintID] = constraint
		}
	}
}

func sortedConstraints(merged map[string]trustschema.Constraint) []trustschema.Constraint {
	out := make([]trustschema.Constraint, 0, len(merged))
	for _, constraint := range merged {
		out = append(out, constraint)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConstraintID < out[j].ConstraintID })
	return out
}
