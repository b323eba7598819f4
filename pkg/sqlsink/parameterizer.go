package sqlsink

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/logging"
	"github.com/jingkaihe/logdispatch/pkg/pattern"
)

// maxRetainedBuffer is the largest render buffer capacity kept from one
// parameter render to the next.
const maxRetainedBuffer = 100000

// Execer is satisfied by *sql.Stmt.
type Execer interface {
	ExecContext(ctx context.Context, args ...any) (sql.Result, error)
}

// Parameterizer turns a SQL template into a parameterized statement.
//
// Every single-quoted literal that contains a '%' directive becomes a '?'
// placeholder whose value is rendered from the event by a compiled
// conversion pattern. Literals without directives stay in the SQL as
// written. A Parameterizer is not safe for concurrent use.
type Parameterizer struct {
	template string
	sql      string
	patterns []string
	chains   []*pattern.Chain
	buf      *bytes.Buffer
}

// ParseSQL scans template and compiles one pattern per directive-bearing
// literal, in order of appearance. Doubled quotes inside a literal are
// unescaped before compiling.
func ParseSQL(template string) (*Parameterizer, error) {
	p := &Parameterizer{template: template, buf: new(bytes.Buffer)}

	var out strings.Builder
	out.Grow(len(template))
	i := 0
	for i < len(template) {
		c := template[i]
		if c != '\'' {
			out.WriteByte(c)
			i++
			continue
		}
		literal, end, err := scanLiteral(template, i)
		if err != nil {
			return nil, err
		}
		raw := template[i:end]
		i = end
		if !strings.ContainsRune(literal, '%') {
			out.WriteString(raw)
			continue
		}
		unescaped := strings.ReplaceAll(literal, "''", "'")
		chain, err := pattern.Compile(unescaped)
		if err != nil {
			return nil, errx.Wrap(ErrCompileParameter, err)
		}
		out.WriteByte('?')
		p.patterns = append(p.patterns, unescaped)
		p.chains = append(p.chains, chain)
	}
	p.sql = out.String()
	return p, nil
}

// scanLiteral reads the quoted span opening at start and returns its
// still-escaped body and the index just past the closing quote.
func scanLiteral(s string, start int) (string, int, error) {
	// '' not followed by another quote is an empty literal.
	if start+1 < len(s) && s[start+1] == '\'' && (start+2 >= len(s) || s[start+2] != '\'') {
		return "", start + 2, nil
	}
	for j := start + 1; j < len(s); j++ {
		if s[j] != '\'' {
			continue
		}
		if j+1 < len(s) && s[j+1] == '\'' {
			j++
			continue
		}
		return s[start+1 : j], j + 1, nil
	}
	return "", 0, errx.With(ErrUnterminatedLiteral, " starting at offset %d", start)
}

// SQL returns the parameterized statement.
func (p *Parameterizer) SQL() string { return p.sql }

// Template returns the statement as configured.
func (p *Parameterizer) Template() string { return p.template }

// ArgPatterns returns the unescaped conversion pattern of each placeholder.
func (p *Parameterizer) ArgPatterns() []string {
	return append([]string(nil), p.patterns...)
}

// NumParams returns the number of placeholders.
func (p *Parameterizer) NumParams() int { return len(p.chains) }

// Args renders every placeholder value for event, in positional order.
func (p *Parameterizer) Args(event *logging.Event) []any {
	args := make([]any, len(p.chains))
	for i, chain := range p.chains {
		args[i] = p.render(chain, event)
	}
	return args
}

// render formats one parameter. A buffer grown past maxRetainedBuffer is
// replaced before the next render.
func (p *Parameterizer) render(chain *pattern.Chain, event *logging.Event) string {
	p.buf.Reset()
	chain.Render(p.buf, event)
	out := p.buf.String()
	if p.buf.Cap() > maxRetainedBuffer {
		p.buf = new(bytes.Buffer)
	} else {
		p.buf.Reset()
	}
	return out
}

// Bind executes stmt with the values rendered from event.
func (p *Parameterizer) Bind(ctx context.Context, stmt Execer, event *logging.Event) error {
	if _, err := stmt.ExecContext(ctx, p.Args(event)...); err != nil {
		return errx.Wrap(ErrBind, err)
	}
	return nil
}

func (p *Parameterizer) String() string {
	return fmt.Sprintf("Parameterizer{sql=%s, args=%v}", p.sql, p.patterns)
}
