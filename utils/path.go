package utils

import "strings"

func NewPath(s ...string) Path {
	p := Path{}
	p = append(p, s...)
	return p
}

// Path is a list of node ids, outermost first.
type Path []string

// AddString returns a new path with s appended. p is never modified.
func (p Path) AddString(s ...string) Path {
	np := make(Path, 0, len(p)+len(s))
	np = append(np, p...)
	return append(np, s...)
}

func (p Path) Export() []string {
	return []string(p)
}

func (p Path) First() (string, bool) {
	if len(p) == 0 {
		return "", false
	}
	return p[0], true
}

func (p Path) Next() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p[1:]
}

func (p Path) String() string {
	return strings.Join(p, ".")
}
