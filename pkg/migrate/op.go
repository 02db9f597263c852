// Package migrate diffs two schema versions into a phased, zero-downtime
// migration plan. Operations are grouped into expand, backfill, validate,
// switch, and contract phases; the contract phase holds every destructive
// operation and is gated behind an explicit allow flag.
package migrate

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/schemac/pkg/sqlast"
)

// Phase orders plan operations. Phases run strictly in declaration order;
// a deploy can stop between any two phases and the database stays usable
// by both the old and the new application version.
type Phase int

// Phase values.
const (
	PhaseExpand Phase = iota
	PhaseBackfill
	PhaseValidate
	PhaseSwitch
	PhaseContract
)

var phaseNames = [...]string{"expand", "backfill", "validate", "switch", "contract"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// LockClass classifies the lock an operation takes, so operators can judge
// blast radius before running a phase.
type LockClass int

// LockClass values.
const (
	// LockMetadata takes a brief exclusive lock on catalog state only.
	LockMetadata LockClass = iota
	// LockScan reads every row without blocking writers.
	LockScan
	// LockRewrite rewrites the table under an exclusive lock.
	LockRewrite
)

var lockNames = [...]string{"metadata", "scan", "rewrite"}

func (l LockClass) String() string {
	if int(l) < len(lockNames) {
		return lockNames[l]
	}
	return fmt.Sprintf("LockClass(%d)", int(l))
}

// OpKind identifies the change an operation applies.
type OpKind int

// OpKind values.
const (
	OpCreateTable OpKind = iota
	OpDropTable
	OpAddColumn
	OpDropColumn
	OpBackfill
	OpSetNotNull
	OpDropNotNull
	OpSetDefault
	OpDropDefault
	OpAlterColumnType
	OpAddConstraint
	OpValidateConstraint
	OpDropConstraint
	OpCreateIndex
	OpDropIndex
	OpEnableRowSecurity
	OpCreatePolicy
	OpDropPolicy
	OpGrant
	OpRevoke
)

// opPhases maps each kind to its phase.
var opPhases = map[OpKind]Phase{
	OpCreateTable:        PhaseExpand,
	OpAddColumn:          PhaseExpand,
	OpSetDefault:         PhaseExpand,
	OpDropDefault:        PhaseExpand,
	OpDropNotNull:        PhaseExpand,
	OpAddConstraint:      PhaseExpand,
	OpCreateIndex:        PhaseExpand,
	OpBackfill:           PhaseBackfill,
	OpSetNotNull:         PhaseValidate,
	OpValidateConstraint: PhaseValidate,
	OpAlterColumnType:    PhaseSwitch,
	OpEnableRowSecurity:  PhaseSwitch,
	OpCreatePolicy:       PhaseSwitch,
	OpDropPolicy:         PhaseSwitch,
	OpGrant:              PhaseSwitch,
	OpRevoke:             PhaseSwitch,
	OpDropTable:          PhaseContract,
	OpDropColumn:         PhaseContract,
	OpDropConstraint:     PhaseContract,
	OpDropIndex:          PhaseContract,
}

// opLocks maps each kind to the lock it takes.
var opLocks = map[OpKind]LockClass{
	OpCreateTable:        LockMetadata,
	OpAddColumn:          LockMetadata,
	OpSetDefault:         LockMetadata,
	OpDropDefault:        LockMetadata,
	OpDropNotNull:        LockMetadata,
	OpAddConstraint:      LockMetadata, // NOT VALID skips the row scan
	OpCreateIndex:        LockScan,     // CONCURRENTLY on populated tables
	OpBackfill:           LockScan,
	OpSetNotNull:         LockScan,
	OpValidateConstraint: LockScan,
	OpAlterColumnType:    LockRewrite,
	OpEnableRowSecurity:  LockMetadata,
	OpCreatePolicy:       LockMetadata,
	OpDropPolicy:         LockMetadata,
	OpGrant:              LockMetadata,
	OpRevoke:             LockMetadata,
	OpDropTable:          LockMetadata,
	OpDropColumn:         LockMetadata,
	OpDropConstraint:     LockMetadata,
	OpDropIndex:          LockMetadata,
}

// Operation is one step of a migration plan.
type Operation struct {
	ID          string
	Kind        OpKind
	Phase       Phase
	Lock        LockClass
	Stmt        sqlast.Stmt
	DependsOn   []string
	Destructive bool
}

// Plan is an ordered migration plan. Ops are phase-major; inside a phase
// they respect declared dependencies with ties broken by ID.
type Plan struct {
	Ops []*Operation
}

// Empty reports whether the plan carries no operations.
func (p *Plan) Empty() bool { return len(p.Ops) == 0 }

// Phase returns the operations of one phase in plan order.
func (p *Plan) Phase(ph Phase) []*Operation {
	var ops []*Operation
	for _, op := range p.Ops {
		if op.Phase == ph {
			ops = append(ops, op)
		}
	}
	return ops
}

// PlanError reports a schema change the planner cannot express.
type PlanError struct {
	Object  string // table or table.column
	Message string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("cannot plan migration for %s: %s", e.Object, e.Message)
}

// BreakingChangeError rejects a plan containing destructive operations
// when they were not explicitly allowed. Plan holds the full plan that
// would run, contract phase included, so callers can inspect or surface
// exactly what was refused.
type BreakingChangeError struct {
	Changes []string
	Plan    *Plan
}

func (e *BreakingChangeError) Error() string {
	return fmt.Sprintf("destructive changes rejected: %s (enable allow_destructive to emit the contract phase)",
		strings.Join(e.Changes, ", "))
}
