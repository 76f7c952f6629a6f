package trust

import (
	"strings"
	"testing"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

func limitConstraint(id, resource string, max float64) trustschema.Constraint {
	return trustschema.Constraint{
		ConstraintID: id,
		Type:         trustschema.ConstraintResourceLimit,
		Resource:     resource,
		MaxValue:     max,
	}
}

func windowConstraint(id, start, end string) trustschema.Constraint {
	return trustschema.Constraint{
		ConstraintID: id,
		Type:         trustschema.ConstraintTimeWindow,
		WindowStart:  start,
		WindowEnd:    end,
	}
}

func scopeConstraint(id string, prefixes ...string) trustschema.Constraint {
	return trustschema.Constraint{
		ConstraintID:  id,
		Type:          trustschema.ConstraintDataScope,
		ScopePrefixes: prefixes,
	}
}

func actionConstraint(id string, actions ...string) trustschema.Constraint {
	return trustschema.Constraint{
		ConstraintID:   id,
		Type:           trustschema.ConstraintActionRestriction,
		AllowedActions: actions,
	}
}

func TestEvaluateConstraints(t *testing.T) {
	noon := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	cases := []struct {
		name        string
		constraint  trustschema.Constraint
		ctx         ActionContext
		wantFailure string
	}{
		{
			name:       "limit_within",
			constraint: limitConstraint("c1", "api_calls", 100),
			ctx:        ActionContext{Resource: "api_calls", Amount: 99, Now: noon},
		},
		{
			name:        "limit_exceeded",
			constraint:  limitConstraint("c1", "api_calls", 100),
			ctx:         ActionContext{Resource: "api_calls", Amount: 101, Now: noon},
			wantFailure: "exceeds limit",
		},
		{
			name:       "limit_other_resource_skipped",
			constraint: limitConstraint("c1", "api_calls", 100),
			ctx:        ActionContext{Resource: "disk_bytes", Amount: 1e9, Now: noon},
		},
		{
			name:       "window_inside",
			constraint: windowConstraint("c2", "09:00", "17:00"),
			ctx:        ActionContext{Now: noon},
		},
		{
			name:        "window_outside",
			constraint:  windowConstraint("c2", "09:00", "17:00"),
			ctx:         ActionContext{Now: time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)},
			wantFailure: "outside window",
		},
		{
			name:       "window_boundary_inclusive",
			constraint: windowConstraint("c2", "09:00", "17:00"),
			ctx:        ActionContext{Now: time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC)},
		},
		{
			name:        "window_malformed",
			constraint:  windowConstraint("c2", "25:99", "17:00"),
			ctx:         ActionContext{Now: noon},
			wantFailure: "expected HH:MM",
		},
		{
			name:       "scope_matched",
			constraint: scopeConstraint("c3", "db.public.", "db.staging."),
			ctx:        ActionContext{Resource: "db.public.users", Now: noon},
		},
		{
			name:        "scope_outside",
			constraint:  scopeConstraint("c3", "db.public."),
			ctx:         ActionContext{Resource: "db.secret.keys", Now: noon},
			wantFailure: "outside data scope",
		},
		{
			name:       "action_allowed",
			constraint: actionConstraint("c4", "read", "write"),
			ctx:        ActionContext{Action: "read", Now: noon},
		},
		{
			name:       "action_wildcard",
			constraint: actionConstraint("c4", "*"),
			ctx:        ActionContext{Action: "delete", Now: noon},
		},
		{
			name:        "action_blocked",
			constraint:  actionConstraint("c4", "read"),
			ctx:         ActionContext{Action: "delete", Now: noon},
			wantFailure: "not allowed",
		},
		{
			name:        "unknown_type_fails_closed",
			constraint:  trustschema.Constraint{ConstraintID: "c5", Type: "rate_limit"},
			ctx:         ActionContext{Now: noon},
			wantFailure: "unknown constraint type",
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			violations := EvaluateConstraints([]trustschema.Constraint{testCase.constraint}, testCase.ctx)
			if testCase.wantFailure == "" {
				if len(violations) != 0 {
					t.Fatalf("unexpected violations: %+v", violations)
				}
				return
			}
			if len(violations) != 1 {
				t.Fatalf("violations = %+v, want exactly one", violations)
			}
			if !strings.Contains(violations[0].Reason, testCase.wantFailure) {
				t.Fatalf("reason %q does not mention %q", violations[0].Reason, testCase.wantFailure)
			}
		})
	}
}

func TestConstraintsTighten(t *testing.T) {
	cases := []struct {
		name    string
		parent  []trustschema.Constraint
		child   []trustschema.Constraint
		wantErr string
	}{
		{
			name:   "equal_is_tightening",
			parent: []trustschema.Constraint{limitConstraint("c1", "api_calls", 100)},
			child:  []trustschema.Constraint{limitConstraint("c1", "api_calls", 100)},
		},
		{
			name:   "lower_limit",
			parent: []trustschema.Constraint{limitConstraint("c1", "api_calls", 100)},
			child:  []trustschema.Constraint{limitConstraint("c1", "api_calls", 50)},
		},
		{
			name:    "raised_limit",
			parent:  []trustschema.Constraint{limitConstraint("c1", "api_calls", 100)},
			child:   []trustschema.Constraint{limitConstraint("c1", "api_calls", 150)},
			wantErr: "limit raised",
		},
		{
			name:    "dropped_constraint",
			parent:  []trustschema.Constraint{limitConstraint("c1", "api_calls", 100)},
			child:   nil,
			wantErr: "removed",
		},
		{
			name:   "extra_child_constraint_allowed",
			parent: []trustschema.Constraint{limitConstraint("c1", "api_calls", 100)},
			child: []trustschema.Constraint{
				limitConstraint("c1", "api_calls", 100),
				actionConstraint("c9", "read"),
			},
		},
		{
			name:    "type_changed",
			parent:  []trustschema.Constraint{limitConstraint("c1", "api_calls", 100)},
			child:   []trustschema.Constraint{actionConstraint("c1", "read")},
			wantErr: "changed type",
		},
		{
			name:   "window_narrowed",
			parent: []trustschema.Constraint{windowConstraint("c2", "09:00", "17:00")},
			child:  []trustschema.Constraint{windowConstraint("c2", "10:00", "16:00")},
		},
		{
			name:    "window_widened",
			parent:  []trustschema.Constraint{windowConstraint("c2", "09:00", "17:00")},
			child:   []trustschema.Constraint{windowConstraint("c2", "08:00", "17:00")},
			wantErr: "exceeds",
		},
		{
			name:   "scope_narrowed",
			parent: []trustschema.Constraint{scopeConstraint("c3", "db.public.")},
			child:  []trustschema.Constraint{scopeConstraint("c3", "db.public.users.")},
		},
		{
			name:    "scope_escaped",
			parent:  []trustschema.Constraint{scopeConstraint("c3", "db.public.")},
			child:   []trustschema.Constraint{scopeConstraint("c3", "db.secret.")},
			wantErr: "outside parent scope",
		},
		{
			name:    "scope_emptied",
			parent:  []trustschema.Constraint{scopeConstraint("c3", "db.public.")},
			child:   []trustschema.Constraint{scopeConstraint("c3")},
			wantErr: "emptied",
		},
		{
			name:   "actions_subset",
			parent: []trustschema.Constraint{actionConstraint("c4", "read", "write")},
			child:  []trustschema.Constraint{actionConstraint("c4", "read")},
		},
		{
			name:    "actions_superset",
			parent:  []trustschema.Constraint{actionConstraint("c4", "read")},
			child:   []trustschema.Constraint{actionConstraint("c4", "read", "delete")},
			wantErr: "not allowed by parent",
		},
		{
			name:   "parent_wildcard_allows_any",
			parent: []trustschema.Constraint{actionConstraint("c4", "*")},
			child:  []trustschema.Constraint{actionConstraint("c4", "delete")},
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			err := ConstraintsTighten(testCase.parent, testCase.child)
			if testCase.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("error %q does not mention %q", err, testCase.wantErr)
			}
		})
	}
}
