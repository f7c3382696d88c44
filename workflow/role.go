package workflow

import (
	"sort"
	"strconv"
	"strings"
)

// Role identifies a category of actor that can be responsible for a submission.
type Role string

const (
	RoleCollege  Role = "College"
	RoleOE       Role = "OE"
	RoleDirector Role = "director"
	RoleCRO      Role = "CRO"
	RolePRO      Role = "PRO"
	RoleCAO      Role = "CAO"
	RoleAC       Role = "AC"
	RoleAA       Role = "AA"
	RoleFO       Role = "FO"
)

const (
	// IntakeRole mediates between the originator and the rest of the chain.
	IntakeRole = RoleOE
	// TerminalRole records the approve/reject decision.
	TerminalRole = RoleDirector
)

type roleKind int

const (
	kindOriginator roleKind = iota
	kindIntake
	kindTerminal
	kindIntermediate
)

type roleInfo struct {
	label string
	kind  roleKind
	order int
}

var registry = map[Role]roleInfo{
	RoleCollege:  {label: "College", kind: kindOriginator, order: 0},
	RoleOE:       {label: "Office Executive", kind: kindIntake, order: 1},
	RoleCRO:      {label: "Community Relation Officer", kind: kindIntermediate, order: 2},
	RolePRO:      {label: "Public Relation Officer", kind: kindIntermediate, order: 3},
	RoleCAO:      {label: "Chief Academic Officer", kind: kindIntermediate, order: 4},
	RoleAC:       {label: "Admin Coordinator", kind: kindIntermediate, order: 5},
	RoleAA:       {label: "Assistant Administrator", kind: kindIntermediate, order: 6},
	RoleFO:       {label: "Finance Officer", kind: kindIntermediate, order: 7},
	RoleDirector: {label: "Director", kind: kindTerminal, order: 8},
}

// ParseRole resolves a role code. Matching is exact after trimming spaces.
func ParseRole(code string) (Role, error) {
	r := Role(strings.TrimSpace(code))
	if !r.Valid() {
		return "", &InvalidTransitionError{Reason: "unknown role " + strconv.Quote(code)}
	}
	return r, nil
}

// ParseRoles resolves every code, failing on the first unknown one.
func ParseRoles(codes []string) ([]Role, error) {
	out := make([]Role, 0, len(codes))
	for _, c := range codes {
		r, err := ParseRole(c)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (r Role) Valid() bool {
	_, ok := registry[r]
	return ok
}

func (r Role) IsZero() bool { return r == "" }

func (r Role) Label() string {
	if info, ok := registry[r]; ok {
		return info.label
	}
	return string(r)
}

func (r Role) IsIntake() bool   { return r == IntakeRole }
func (r Role) IsTerminal() bool { return r == TerminalRole }

func (r Role) IsIntermediate() bool {
	info, ok := registry[r]
	return ok && info.kind == kindIntermediate
}

// CanOriginate reports whether the role may create a submission.
func (r Role) CanOriginate() bool {
	return r.Valid() && !r.IsTerminal()
}

func (r Role) String() string { return string(r) }

// Roles lists the registry in display order.
func Roles() []Role {
	out := make([]Role, 0, len(registry))
	for r := range registry {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return registry[out[i]].order < registry[out[j]].order })
	return out
}

// IntermediateRoles lists the roles Intake may insert into a plan.
func IntermediateRoles() []Role {
	var out []Role
	for _, r := range Roles() {
		if r.IsIntermediate() {
			out = append(out, r)
		}
	}
	return out
}
