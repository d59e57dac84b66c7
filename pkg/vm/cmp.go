package vm

import "github.com/kristofer/resolve/pkg/bytecode"

// numericOf reports whether e carries a number and its value as a double,
// for the cross-type int/double coercion spec.md §4.1 requires of the
// ordered comparisons.
func numericOf(e Entry) (float64, bool) {
	switch e.Kind {
	case KindInteger:
		return float64(e.I), true
	case KindDouble:
		return e.D, true
	default:
		return 0, false
	}
}

// execCmp implements CMP <op>: the binary comparisons EQ/NE/LT/LE/GT/GE
// coerce INTEGER and DOUBLE operands to a common numeric type and compare
// STRING operands byte-for-byte, but refuse to order a string against a
// number; the unary NOT and the boolean-coercing AND/OR operate on
// Entry.Truthy() (spec.md §4.1).
func (v *VM) execCmp(op bytecode.CmpOp) error {
	switch op {
	case bytecode.CmpNot:
		a, err := v.pop()
		if err != nil {
			return err
		}
		v.push(boolEntry(!a.Truthy()))
		return nil
	case bytecode.CmpAnd, bytecode.CmpOr:
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}
		var res bool
		if op == bytecode.CmpAnd {
			res = a.Truthy() && b.Truthy()
		} else {
			res = a.Truthy() || b.Truthy()
		}
		v.push(boolEntry(res))
		return nil
	}

	b, err := v.pop()
	if err != nil {
		return err
	}
	a, err := v.pop()
	if err != nil {
		return err
	}

	an, aIsNum := numericOf(a)
	bn, bIsNum := numericOf(b)

	switch {
	case aIsNum && bIsNum:
		v.push(boolEntry(compareNums(an, bn, op)))
		return nil
	case a.Kind == KindString && b.Kind == KindString:
		switch op {
		case bytecode.CmpEQ:
			v.push(boolEntry(a.S == b.S))
		case bytecode.CmpNE:
			v.push(boolEntry(a.S != b.S))
		case bytecode.CmpLT:
			v.push(boolEntry(a.S < b.S))
		case bytecode.CmpLE:
			v.push(boolEntry(a.S <= b.S))
		case bytecode.CmpGT:
			v.push(boolEntry(a.S > b.S))
		case bytecode.CmpGE:
			v.push(boolEntry(a.S >= b.S))
		default:
			return v.fail(2, "unhandled CMP op %s", op)
		}
		return nil
	case op == bytecode.CmpEQ:
		v.push(boolEntry(false))
		return nil
	case op == bytecode.CmpNE:
		v.push(boolEntry(true))
		return nil
	default:
		return v.fail(2, "CMP %s: incomparable operand kinds %s and %s", op, a.Kind, b.Kind)
	}
}

func compareNums(a, b float64, op bytecode.CmpOp) bool {
	switch op {
	case bytecode.CmpEQ:
		return a == b
	case bytecode.CmpNE:
		return a != b
	case bytecode.CmpLT:
		return a < b
	case bytecode.CmpLE:
		return a <= b
	case bytecode.CmpGT:
		return a > b
	case bytecode.CmpGE:
		return a >= b
	default:
		return false
	}
}

func boolEntry(b bool) Entry {
	if b {
		return IntEntry(1)
	}
	return IntEntry(0)
}

// execBranch implements BRANCH <kind, disp>: BranchAlways always takes the
// branch without consuming the stack, BranchIfTrue/BranchIfFalse pop the
// condition and take it according to Entry.Truthy() (spec.md §4.1).
func (v *VM) execBranch(instr bytecode.Instr) (bool, error) {
	switch instr.BranchKind {
	case bytecode.BranchAlways:
		return true, nil
	case bytecode.BranchIfTrue:
		e, err := v.pop()
		if err != nil {
			return false, err
		}
		return e.Truthy(), nil
	case bytecode.BranchIfFalse:
		e, err := v.pop()
		if err != nil {
			return false, err
		}
		return !e.Truthy(), nil
	default:
		return false, v.fail(2, "unhandled BRANCH kind %d", instr.BranchKind)
	}
}
