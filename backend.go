package ttsched

// backend.go defines the contract between the constraint builder and the
// solver engines.  The builder only ever emits through this capability set;
// each engine (the exact-arithmetic solver in smt.go, the MILP solver in
// milp.go) implements it once, and is selected once at run start.  Native
// solver handles stay inside the implementation, the builder sees opaque
// VarID values only.

import "errors"

// VarID is an opaque handle to a backend variable.  Handles are run-scoped
// and owned by the backend that issued them; the zero VarID is "no variable"
type VarID int

// RelOp enumerates the relational operators of a linear relation
type RelOp int

const (
	RelEq RelOp = iota // X = Y + Dist
	RelLE              // X <= Y + Dist
	RelGE              // X >= Y + Dist
)

// Relation is one linear relation between two variables, X op Y + Dist.
// When Y is the zero VarID the relation compares X against the constant
// Dist alone
type Relation struct {
	X    VarID
	Op   RelOp
	Y    VarID
	Dist int64
}

// Relation constructors keep emission sites readable

func RelEquals(x, y VarID, dist int64) Relation {
	return Relation{X: x, Op: RelEq, Y: y, Dist: dist}
}

func RelAtMost(x, y VarID, dist int64) Relation {
	return Relation{X: x, Op: RelLE, Y: y, Dist: dist}
}

func RelAtLeast(x, y VarID, dist int64) Relation {
	return Relation{X: x, Op: RelGE, Y: y, Dist: dist}
}

func RelEqualsConst(x VarID, value int64) Relation {
	return Relation{X: x, Op: RelEq, Dist: value}
}

func RelAtLeastConst(x VarID, value int64) Relation {
	return Relation{X: x, Op: RelGE, Dist: value}
}

// ErrBackend marks failures inside a solver engine: a variable that cannot
// be created, a constraint that cannot be encoded, a malfunction during the
// solve call.  Emission errors abort the run; partially emitted models are
// discarded, never reused
var ErrBackend = errors.New("backend error")

// SolveStatus is the terminal state of a solve call
type SolveStatus int

const (
	// Solved means a model exists and every variable has a determinate value
	Solved SolveStatus = iota
	// Infeasible means no schedule satisfies the constraints.  It is an
	// expected outcome, not an error
	Infeasible
	// SolverError means the engine failed or ran out of its time budget
	// before reaching an answer
	SolverError
	// Tuned means the run probed engine parameters instead of solving;
	// no schedule was produced and no feasibility claim is made
	Tuned
)

var ssToStr map[SolveStatus]string = map[SolveStatus]string{
	Solved: "solved", Infeasible: "infeasible", SolverError: "solver error",
	Tuned: "tuned"}

func (ss SolveStatus) String() string {
	return ssToStr[ss]
}

// SolveResult couples the terminal status with engine detail for the
// SolverError case
type SolveResult struct {
	Status SolveStatus
	Detail string
}

// Backend is the capability set the constraint builder emits through.
// Every call appends to the engine's model and never mutates constraints
// emitted earlier
type Backend interface {
	// NewIntVar creates an integer variable with inclusive domain [min, max]
	NewIntVar(name string, min, max int64) (VarID, error)

	// NewBoolVar creates a 0/1 decision variable
	NewBoolVar(name string) (VarID, error)

	// Assert adds one unconditional linear relation
	Assert(rel Relation) error

	// AssertAny adds a disjunction: at least one of the relations holds
	AssertAny(rels []Relation) error

	// AssertWhen adds a conditional relation: when the selector variable
	// takes the given truth value, the relation holds
	AssertWhen(sel VarID, selTrue bool, rel Relation) error

	// AssertOrEquals constrains out to be the disjunction of ins
	AssertOrEquals(out VarID, ins []VarID) error

	// AssertSumEquals constrains the sum of the 0/1 variables to the value
	AssertSumEquals(bools []VarID, value int64) error

	// AddObjectiveTerm registers weight * v as a maximization term.  An
	// engine without optimization support accepts and ignores the term
	AddObjectiveTerm(v VarID, weight float64) error

	// Solve runs the engine within the time budget
	Solve(timeLimitSeconds int) SolveResult

	// Tune searches the engine parameter space within the time budget,
	// persists the parameter sets it finds, and returns their count.
	// Zero is a valid outcome meaning no improvement was found
	Tune(timeLimitSeconds int) (int, error)

	// Value extracts the determinate value of a variable from a Solved model
	Value(v VarID) (int64, error)
}
