package model

// VarAccess controls how generated code may use a state variable
type VarAccess int

const (
	// ReadWrite variables are loaded into registers and written back
	ReadWrite VarAccess = iota
	// ReadOnly variables are loaded but never written back
	ReadOnly
)

// Var describes one state variable of a model: a name, a target-language
// type and an access mode
type Var struct {
	Name   string
	Type   string
	Access VarAccess
}

// VarInit binds an initialisation strategy to a variable. When Code is empty
// the variable is initialised to Constant; otherwise Code is an equation
// snippet evaluated per element, assigning to $(value)
type VarInit struct {
	Constant float64
	Code     string
}

func VarsEqual(a, b []Var) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// VarInitsStructurallyEqual compares initialisation snippets, ignoring the
// constant values which stay per-population runtime data
func VarInitsStructurallyEqual(a, b []VarInit) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Code != b[i].Code {
			return false
		}
	}
	return true
}
