package model

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/pkg/errors"
)

// The .fg text format describes a factor graph one statement at a time:
//
//	# comments run to end of line
//	vars spins 4 states 2
//	evidence spins [ 0.1 0 0 0.2 0 0 0 0 ]
//	pairwise coupling pot [ 1 -1 -1 1 ] edge spins[0] spins[1] edge spins[1] spins[2]
//	enum triple arity 2 config 0 0 = 1.5 config 1 1 = -0.5 factor spins[0] spins[3]
//	or clause factor spins[0] spins[1] -> spins[2]
//	and gate factor spins[0] spins[1] -> spins[3]
//
// Pairwise and enumerated statements share their table across every factor
// in the statement. Evidence rows are row-major NumVars x NumStates.

type fgFile struct {
	Stmts []*fgStmt `parser:"@@*"`
}

type fgStmt struct {
	Vars     *varsStmt     `parser:"  @@"`
	Evidence *evidenceStmt `parser:"| @@"`
	Pairwise *pairwiseStmt `parser:"| @@"`
	Enum     *enumStmt     `parser:"| @@"`
	Logical  *logicalStmt  `parser:"| @@"`
}

type varsStmt struct {
	Name   string `parser:"'vars' @Ident"`
	Count  int    `parser:"@Number"`
	States int    `parser:"'states' @Number"`
}

type evidenceStmt struct {
	Group  string    `parser:"'evidence' @Ident"`
	Values []float64 `parser:"'[' @Number* ']'"`
}

type ref struct {
	Group string `parser:"@Ident"`
	Index int    `parser:"'[' @Number ']'"`
}

func (r ref) varRef() VarRef { return VarRef{Group: r.Group, Index: r.Index} }

type edgeClause struct {
	A ref `parser:"'edge' @@"`
	B ref `parser:"@@"`
}

type pairwiseStmt struct {
	Name  string        `parser:"'pairwise' @Ident"`
	Pot   []float64     `parser:"'pot' '[' @Number* ']'"`
	Edges []*edgeClause `parser:"@@*"`
}

type configClause struct {
	States []int   `parser:"'config' @Number+"`
	LogPot float64 `parser:"'=' @Number"`
}

type enumFactorClause struct {
	Vars []ref `parser:"'factor' @@+"`
}

type enumStmt struct {
	Name    string              `parser:"'enum' @Ident"`
	Arity   int                 `parser:"'arity' @Number"`
	Configs []*configClause     `parser:"@@+"`
	Factors []*enumFactorClause `parser:"@@+"`
}

type logicalFactorClause struct {
	Parents []ref `parser:"'factor' @@+"`
	Child   ref   `parser:"'->' @@"`
}

type logicalStmt struct {
	Kind    string                 `parser:"@('or' | 'and')"`
	Name    string                 `parser:"@Ident"`
	Factors []*logicalFactorClause `parser:"@@*"`
}

var fgLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Number", Pattern: `[-+]?\d+(\.\d+)?([eE][-+]?\d+)?`},
	{Name: "Punct", Pattern: `\[|\]|->|=`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
})

var fgParser = participle.MustBuild[fgFile](
	participle.Lexer(fgLexer),
	participle.Elide("Whitespace", "Comment"),
)

// Parse reads a .fg document into a validated Graph plus the evidence
// arrays declared alongside it, keyed by variable-group name.
func Parse(filename, src string) (*Graph, map[string][]float64, error) {
	file, err := fgParser.ParseString(filename, src)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse model")
	}

	g := NewGraph()
	evidence := make(map[string][]float64)

	for _, stmt := range file.Stmts {
		switch {
		case stmt.Vars != nil:
			s := stmt.Vars
			if err := g.AddVariableGroup(s.Name, s.Count, s.States); err != nil {
				return nil, nil, err
			}

		case stmt.Evidence != nil:
			s := stmt.Evidence
			vg, ok := g.VariableGroup(s.Group)
			if !ok {
				return nil, nil, errors.Errorf("evidence for undeclared group %q", s.Group)
			}
			if len(s.Values) != vg.NumVars*vg.NumStates {
				return nil, nil, errors.Errorf("evidence for %q: got %d values, want %d",
					s.Group, len(s.Values), vg.NumVars*vg.NumStates)
			}
			evidence[s.Group] = s.Values

		case stmt.Pairwise != nil:
			s := stmt.Pairwise
			fg := &PairwiseFactorGroup{GroupName: s.Name, SharedLogPotentials: s.Pot}
			for _, e := range s.Edges {
				fg.Pairs = append(fg.Pairs, [2]VarRef{e.A.varRef(), e.B.varRef()})
			}
			if err := g.AddFactorGroup(fg); err != nil {
				return nil, nil, err
			}

		case stmt.Enum != nil:
			s := stmt.Enum
			fg := &EnumeratedFactorGroup{GroupName: s.Name}
			shared := make([]float64, 0, len(s.Configs))
			for _, c := range s.Configs {
				if len(c.States) != s.Arity {
					return nil, nil, errors.Errorf("enum %q: config has %d states, arity is %d",
						s.Name, len(c.States), s.Arity)
				}
				fg.Configs = append(fg.Configs, c.States)
				shared = append(shared, c.LogPot)
			}
			fg.SharedLogPotentials = shared
			for _, f := range s.Factors {
				refs := make([]VarRef, 0, len(f.Vars))
				for _, r := range f.Vars {
					refs = append(refs, r.varRef())
				}
				fg.Vars = append(fg.Vars, refs)
			}
			if err := g.AddFactorGroup(fg); err != nil {
				return nil, nil, err
			}

		case stmt.Logical != nil:
			s := stmt.Logical
			factors := make([][]VarRef, 0, len(s.Factors))
			for _, f := range s.Factors {
				refs := make([]VarRef, 0, len(f.Parents)+1)
				for _, r := range f.Parents {
					refs = append(refs, r.varRef())
				}
				refs = append(refs, f.Child.varRef())
				factors = append(factors, refs)
			}
			var fg FactorGroup
			if s.Kind == "or" {
				fg = &ORFactorGroup{GroupName: s.Name, Factors: factors}
			} else {
				fg = &ANDFactorGroup{GroupName: s.Name, Factors: factors}
			}
			if err := g.AddFactorGroup(fg); err != nil {
				return nil, nil, err
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, nil, err
	}
	return g, evidence, nil
}
