// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package bdd

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// ExprKind enumerates the kinds of expression nodes.
type ExprKind int

const (
	ExprSymbol ExprKind = iota
	ExprConst
	ExprOp
)

// Expr is an immutable symbolic expression: a symbol, an integer constant or an
// operation over other expressions. Boolean values are encoded as the constants 0 and 1.
//
// Expressions are shared freely between diagrams, clones and execution plans, so they
// must never be modified after construction.
type Expr struct {
	kind  ExprKind
	name  string
	value int64
	args  []*Expr
}

// Symbol returns a symbol expression.
func Symbol(name string) *Expr {
	return &Expr{kind: ExprSymbol, name: name}
}

// Const returns a constant expression.
func Const(value int64) *Expr {
	return &Expr{kind: ExprConst, value: value}
}

// Bool returns the constant 1 for true and 0 for false.
func Bool(value bool) *Expr {
	if value {
		return Const(1)
	}
	return Const(0)
}

// Op returns the operation `name` applied to args.
func Op(name string, args ...*Expr) *Expr {
	return &Expr{kind: ExprOp, name: name, args: append([]*Expr(nil), args...)}
}

// Eq is a shortcut to Op("eq", a, b).
func Eq(a, b *Expr) *Expr { return Op("eq", a, b) }

// Not returns the negation of e, eliminating double negations and folding constants.
func Not(e *Expr) *Expr {
	switch {
	case e.kind == ExprConst:
		return Bool(e.value == 0)
	case e.kind == ExprOp && e.name == "not" && len(e.args) == 1:
		return e.args[0]
	}
	return Op("not", e)
}

// Kind of the expression.
func (e *Expr) Kind() ExprKind { return e.kind }

// Name of the symbol or operation. Empty for constants.
func (e *Expr) Name() string { return e.name }

// Value of a constant expression.
func (e *Expr) Value() int64 { return e.value }

// NumArgs returns the number of operands of an operation.
func (e *Expr) NumArgs() int { return len(e.args) }

// Arg returns the ii-th operand of an operation.
func (e *Expr) Arg(ii int) *Expr { return e.args[ii] }

// IsTrue returns whether e is the constant true (any non-zero constant).
func (e *Expr) IsTrue() bool { return e.kind == ExprConst && e.value != 0 }

// IsFalse returns whether e is the constant false.
func (e *Expr) IsFalse() bool { return e.kind == ExprConst && e.value == 0 }

// String returns the expression as an s-expression, e.g. `(eq dst_port 80)`.
func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	e.write(&sb)
	return sb.String()
}

func (e *Expr) write(sb *strings.Builder) {
	switch e.kind {
	case ExprSymbol:
		sb.WriteString(e.name)
	case ExprConst:
		sb.WriteString(strconv.FormatInt(e.value, 10))
	case ExprOp:
		sb.WriteByte('(')
		sb.WriteString(e.name)
		for _, arg := range e.args {
			sb.WriteByte(' ')
			arg.write(sb)
		}
		sb.WriteByte(')')
	}
}

// Equal returns whether e and other are structurally identical.
// Semantic equivalence is the job of a solver.Solver.
func (e *Expr) Equal(other *Expr) bool {
	if e == other {
		return true
	}
	if e == nil || other == nil {
		return false
	}
	if e.kind != other.kind || e.name != other.name || e.value != other.value || len(e.args) != len(other.args) {
		return false
	}
	for ii, arg := range e.args {
		if !arg.Equal(other.args[ii]) {
			return false
		}
	}
	return true
}

// Symbols returns the set of symbol names read by the expression.
func (e *Expr) Symbols() sets.Set[string] {
	s := sets.Make[string]()
	e.collectSymbols(s)
	return s
}

func (e *Expr) collectSymbols(s sets.Set[string]) {
	if e == nil {
		return
	}
	if e.kind == ExprSymbol {
		s.Insert(e.name)
		return
	}
	for _, arg := range e.args {
		arg.collectSymbols(s)
	}
}

// exprJSON is the serialized form of an Expr: exactly one of Sym, Const or Op is set.
type exprJSON struct {
	Sym   *string `json:"sym,omitempty"`
	Const *int64  `json:"const,omitempty"`
	Op    string  `json:"op,omitempty"`
	Args  []*Expr `json:"args,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Expr) MarshalJSON() ([]byte, error) {
	var j exprJSON
	switch e.kind {
	case ExprSymbol:
		j.Sym = &e.name
	case ExprConst:
		j.Const = &e.value
	case ExprOp:
		j.Op = e.name
		j.Args = e.args
	}
	return json.Marshal(&j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Expr) UnmarshalJSON(data []byte) error {
	var j exprJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	switch {
	case j.Sym != nil:
		*e = Expr{kind: ExprSymbol, name: *j.Sym}
	case j.Const != nil:
		*e = Expr{kind: ExprConst, value: *j.Const}
	case j.Op != "":
		for ii, arg := range j.Args {
			if arg == nil {
				return errors.Errorf("operation %q has a null operand #%d", j.Op, ii)
			}
		}
		*e = Expr{kind: ExprOp, name: j.Op, args: j.Args}
	default:
		return errors.Errorf("expression %s has none of \"sym\", \"const\" or \"op\"", string(data))
	}
	return nil
}
