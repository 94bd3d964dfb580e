package query

import (
	"fmt"
	"strconv"
)

// Parser is a recursive-descent parser producing one Stmt per call to
// Parse, buffering a single token of lookahead.
type Parser struct {
	lex  *Lexer
	cur  Token
	peek Token
}

func (p *Parser) advance() error {
	p.cur = p.peek
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.peek = tok
	return nil
}

// bootstrap primes cur and peek so advance's shift-and-refill pattern has
// valid lookahead from the first call.
func (p *Parser) bootstrap() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.cur = tok
	tok, err = p.lex.Next()
	if err != nil {
		return err
	}
	p.peek = tok
	return nil
}

// Parse parses a single top-level statement from the parser's input.
func Parse(input string) (Stmt, error) {
	p := &Parser{lex: NewLexer(input)}
	if err := p.bootstrap(); err != nil {
		return nil, err
	}
	return p.parseStmt()
}

func (p *Parser) parseStmt() (Stmt, error) {
	if p.cur.Kind == TokMeta {
		kind := MetaDatabases
		if p.cur.Text == ".timeseries" {
			kind = MetaTimeseries
		}
		return MetaStmt{Kind: kind}, nil
	}
	if p.cur.Kind != TokKeyword {
		return nil, fmt.Errorf("query: expected statement keyword, got %q", p.cur.Text)
	}

	switch p.cur.Text {
	case "USE":
		return p.parseUse()
	case "CREATEDB":
		return p.parseCreateDB()
	case "CREATE":
		return p.parseCreate()
	case "DELETE":
		return p.parseDelete()
	case "INSERT":
		return p.parseInsert()
	case "SELECT":
		return p.parseSelect()
	default:
		return nil, fmt.Errorf("query: unsupported statement %q", p.cur.Text)
	}
}

func (p *Parser) expectIdent() (string, error) {
	// VALUE lexes as a keyword but also names the data column in SELECT
	// and WHERE, so it is accepted wherever an identifier is expected.
	if p.cur.Kind == TokKeyword && p.cur.Text == "VALUE" {
		return "value", p.advance()
	}
	if p.cur.Kind != TokIdent {
		return "", fmt.Errorf("query: expected identifier, got %q", p.cur.Text)
	}
	text := p.cur.Text
	return text, p.advance()
}

func (p *Parser) expectKeyword(kw string) error {
	if p.cur.Kind != TokKeyword || p.cur.Text != kw {
		return fmt.Errorf("query: expected %q, got %q", kw, p.cur.Text)
	}
	return p.advance()
}

func (p *Parser) parseUse() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return UseStmt{Database: name}, nil
}

func (p *Parser) parseCreateDB() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return CreateDBStmt{Database: name}, nil
}

func (p *Parser) parseCreate() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return CreateStmt{Series: name}, nil
}

func (p *Parser) parseDelete() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return DeleteStmt{Series: name}, nil
}

func (p *Parser) parseInsert() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	series, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}

	var values []InsertValue
	for {
		if p.cur.Kind != TokPunct || p.cur.Text != "(" {
			return nil, fmt.Errorf("query: expected '(' to open a VALUES tuple")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		tu, err := p.parseTimeUnit()
		if err != nil {
			return nil, err
		}
		if p.cur.Kind != TokPunct || p.cur.Text != "," {
			return nil, fmt.Errorf("query: expected ',' in VALUES tuple")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind != TokNumber {
			return nil, fmt.Errorf("query: expected numeric value in VALUES tuple")
		}
		value, err := strconv.ParseFloat(p.cur.Text, 64)
		if err != nil {
			return nil, fmt.Errorf("query: bad number literal %q: %w", p.cur.Text, err)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind != TokPunct || p.cur.Text != ")" {
			return nil, fmt.Errorf("query: expected ')' to close a VALUES tuple")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		values = append(values, InsertValue{Time: tu, Value: value})

		if p.cur.Kind == TokPunct && p.cur.Text == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return InsertStmt{Series: series, Values: values}, nil
}

func (p *Parser) parseSelect() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}

	stmt := SelectStmt{}
	if p.cur.Kind == TokFunc {
		stmt.Func = p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind != TokPunct || p.cur.Text != "(" {
			return nil, fmt.Errorf("query: expected '(' after function name")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		stmt.Column = col
		if p.cur.Kind != TokPunct || p.cur.Text != ")" {
			return nil, fmt.Errorf("query: expected ')' after function argument")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		stmt.Column = col
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	series, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt.Series = series

	if p.cur.Kind == TokKeyword && p.cur.Text == "BETWEEN" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		from, err := p.parseTimeUnit()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		to, err := p.parseTimeUnit()
		if err != nil {
			return nil, err
		}
		stmt.RangeFrom, stmt.RangeTo = from, to
	}

	if p.cur.Kind == TokKeyword && p.cur.Text == "WHERE" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for {
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if p.cur.Kind != TokOp {
				return nil, fmt.Errorf("query: expected comparison operator in WHERE clause")
			}
			op := p.cur.Text
			if err := p.advance(); err != nil {
				return nil, err
			}
			val, err := p.parseTimeUnit()
			if err != nil {
				return nil, err
			}
			stmt.Where = append(stmt.Where, Condition{Column: col, Op: op, Value: val})

			if p.cur.Kind == TokKeyword && p.cur.Text == "AND" {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	if p.cur.Kind == TokKeyword && p.cur.Text == "SAMPLE" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		tu, err := p.parseTimeUnit()
		if err != nil {
			return nil, err
		}
		stmt.SampleBy = tu
	}

	if p.cur.Kind == TokKeyword && p.cur.Text == "LIMIT" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind != TokNumber {
			return nil, fmt.Errorf("query: expected integer after LIMIT")
		}
		n, err := strconv.Atoi(p.cur.Text)
		if err != nil {
			return nil, fmt.Errorf("query: bad LIMIT value %q: %w", p.cur.Text, err)
		}
		stmt.Limit, stmt.HasLimit = n, true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	return stmt, nil
}

// parseTimeUnit parses a timeunit with +/- as the lowest-precedence binary
// operators and * as the higher-precedence one.
func (p *Parser) parseTimeUnit() (TimeUnit, error) {
	left, err := p.parseTimeUnitTerm()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == TokOp && (p.cur.Text == "+" || p.cur.Text == "-") {
		op := p.cur.Text[0]
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseTimeUnitTerm()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseTimeUnitTerm() (TimeUnit, error) {
	left, err := p.parseTimeUnitAtom()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == TokOp && p.cur.Text == "*" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseTimeUnitAtom()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: '*', Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseTimeUnitAtom() (TimeUnit, error) {
	switch p.cur.Kind {
	case TokNumber:
		n, err := strconv.ParseInt(p.cur.Text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("query: bad integer literal %q: %w", p.cur.Text, err)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return IntLit{Value: n}, nil
	case TokTimespan:
		text := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return TimespanLit{Value: text}, nil
	case TokString:
		text := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return DateLit{Value: text}, nil
	case TokFunc:
		if p.cur.Text != "now" {
			return nil, fmt.Errorf("query: unexpected function %q in timeunit position", p.cur.Text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind != TokPunct || p.cur.Text != "(" {
			return nil, fmt.Errorf("query: expected '(' after now")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind != TokPunct || p.cur.Text != ")" {
			return nil, fmt.Errorf("query: expected ')' after now(")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return NowLit{}, nil
	default:
		return nil, fmt.Errorf("query: expected a timeunit, got %q", p.cur.Text)
	}
}
