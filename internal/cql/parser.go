package cql

import (
	"errors"
	"fmt"
	"strings"

	"tessera/internal/table"
)

// ErrSyntax wraps every parse failure so callers can map it to the client
// protocol's syntax-error code.
var ErrSyntax = errors.New("syntax error")

var columnTypes = map[string]bool{
	"TEXT": true, "BIGINT": true, "INT": true,
	"UUID": true, "TIMESTAMP": true, "FLOAT": true,
}

// Parse turns one `;`-terminated statement into its tagged variant.
func Parse(input string) (Statement, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	p := &parser{tokens: tokens}

	stmt, err := p.parseStatement()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if !p.acceptSymbol(";") {
		return nil, fmt.Errorf("%w: missing terminating ';'", ErrSyntax)
	}
	return stmt, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (token, error) {
	t, ok := p.peek()
	if !ok {
		return token{}, fmt.Errorf("unexpected end of statement")
	}
	p.pos++
	return t, nil
}

func (p *parser) acceptKeyword(word string) bool {
	if t, ok := p.peek(); ok && t.keyword(word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptSymbol(s string) bool {
	if t, ok := p.peek(); ok && t.symbol(s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(word string) error {
	if !p.acceptKeyword(word) {
		return fmt.Errorf("expected %s", word)
	}
	return nil
}

func (p *parser) expectSymbol(s string) error {
	if !p.acceptSymbol(s) {
		return fmt.Errorf("expected %q", s)
	}
	return nil
}

func (p *parser) identifier() (string, error) {
	t, err := p.next()
	if err != nil {
		return "", err
	}
	if t.kind != tokenIdentifier {
		return "", fmt.Errorf("expected identifier, found %q", t.text)
	}
	return t.text, nil
}

// tableName accepts `name` or `keyspace.name` and returns the joined form.
func (p *parser) tableName() (string, error) {
	name, err := p.identifier()
	if err != nil {
		return "", err
	}
	if p.acceptSymbol(".") {
		suffix, err := p.identifier()
		if err != nil {
			return "", err
		}
		return name + "." + suffix, nil
	}
	return name, nil
}

func (p *parser) parseStatement() (Statement, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("empty statement")
	}
	switch {
	case t.keyword("CREATE"):
		p.pos++
		if p.acceptKeyword("KEYSPACE") {
			return p.parseCreateKeyspace()
		}
		if p.acceptKeyword("TABLE") {
			return p.parseCreateTable()
		}
		return nil, fmt.Errorf("expected KEYSPACE or TABLE after CREATE")
	case t.keyword("USE"):
		p.pos++
		keyspace, err := p.identifier()
		if err != nil {
			return nil, err
		}
		return &Use{Keyspace: keyspace}, nil
	case t.keyword("INSERT"):
		p.pos++
		return p.parseInsert()
	case t.keyword("SELECT"):
		p.pos++
		return p.parseSelect()
	case t.keyword("UPDATE"):
		p.pos++
		return p.parseUpdate()
	case t.keyword("DELETE"):
		p.pos++
		return p.parseDelete()
	default:
		return nil, fmt.Errorf("unknown statement %q", t.text)
	}
}

func (p *parser) parseCreateKeyspace() (Statement, error) {
	keyspace, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("WITH"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("REPLICATION"); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("="); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}

	stmt := &CreateKeyspace{Keyspace: keyspace}
	for {
		key, err := p.next()
		if err != nil {
			return nil, err
		}
		if key.kind != tokenString {
			return nil, fmt.Errorf("expected quoted replication option, found %q", key.text)
		}
		if err := p.expectSymbol(":"); err != nil {
			return nil, err
		}
		value, err := p.next()
		if err != nil {
			return nil, err
		}
		if value.kind != tokenString && value.kind != tokenNumber {
			return nil, fmt.Errorf("expected replication value, found %q", value.text)
		}
		switch strings.ToLower(key.text) {
		case "class":
			stmt.Class = value.text
		case "replication_factor":
			stmt.Factor = value.text
		default:
			return nil, fmt.Errorf("unknown replication option %q", key.text)
		}
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	if stmt.Class == "" || stmt.Factor == "" {
		return nil, fmt.Errorf("replication needs both 'class' and 'replication_factor'")
	}
	return stmt, nil
}

func (p *parser) parseCreateTable() (Statement, error) {
	name, err := p.tableName()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}

	stmt := &CreateTable{Table: name}
	for {
		if p.acceptKeyword("PRIMARY") {
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			if err := p.parsePrimaryKey(stmt); err != nil {
				return nil, err
			}
			break
		}
		column, err := p.identifier()
		if err != nil {
			return nil, err
		}
		columnType, err := p.identifier()
		if err != nil {
			return nil, err
		}
		if !columnTypes[strings.ToUpper(columnType)] {
			return nil, fmt.Errorf("unknown column type %q", columnType)
		}
		stmt.Columns = append(stmt.Columns, ColumnDef{Name: column, Type: strings.ToUpper(columnType)})
		if err := p.expectSymbol(","); err != nil {
			return nil, err
		}
	}

	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	if len(stmt.PartitionKey) == 0 {
		return nil, fmt.Errorf("primary key needs at least one partition key column")
	}
	return stmt, nil
}

// parsePrimaryKey reads ((pk, ...), ck, ...) after PRIMARY KEY.
func (p *parser) parsePrimaryKey(stmt *CreateTable) error {
	if err := p.expectSymbol("("); err != nil {
		return err
	}
	if err := p.expectSymbol("("); err != nil {
		return err
	}
	for {
		column, err := p.identifier()
		if err != nil {
			return err
		}
		stmt.PartitionKey = append(stmt.PartitionKey, column)
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return err
	}
	for p.acceptSymbol(",") {
		column, err := p.identifier()
		if err != nil {
			return err
		}
		stmt.ClusteringKey = append(stmt.ClusteringKey, column)
	}
	return p.expectSymbol(")")
}

func (p *parser) parseInsert() (Statement, error) {
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	name, err := p.tableName()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}

	stmt := &Insert{Table: name}
	for {
		column, err := p.identifier()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, column)
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}

	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var tuple []string
		for {
			t, err := p.next()
			if err != nil {
				return nil, err
			}
			if t.kind != tokenString && t.kind != tokenNumber {
				return nil, fmt.Errorf("expected literal value, found %q", t.text)
			}
			tuple = append(tuple, t.text)
			if p.acceptSymbol(",") {
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		if len(tuple) != len(stmt.Columns) {
			return nil, fmt.Errorf("got %d values for %d columns", len(tuple), len(stmt.Columns))
		}
		stmt.Values = append(stmt.Values, tuple)
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	return stmt, nil
}

func (p *parser) parseSelect() (Statement, error) {
	stmt := &Select{}
	if p.acceptSymbol("*") {
		stmt.Columns = nil
	} else {
		for {
			column, err := p.identifier()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, column)
			if p.acceptSymbol(",") {
				continue
			}
			break
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.tableName()
	if err != nil {
		return nil, err
	}
	stmt.Table = name

	stmt.Where = table.True{}
	if p.acceptKeyword("WHERE") {
		where, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			column, err := p.identifier()
			if err != nil {
				return nil, err
			}
			ordering := Ordering{Column: column}
			if p.acceptKeyword("DESC") {
				ordering.Descending = true
			} else {
				p.acceptKeyword("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, ordering)
			if p.acceptSymbol(",") {
				continue
			}
			break
		}
	}
	return stmt, nil
}

func (p *parser) parseUpdate() (Statement, error) {
	name, err := p.tableName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}

	stmt := &Update{Table: name, Set: table.Row{}}
	for {
		column, err := p.identifier()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		if t.kind != tokenString && t.kind != tokenNumber {
			return nil, fmt.Errorf("expected literal value, found %q", t.text)
		}
		stmt.Set[column] = t.text
		if p.acceptSymbol(",") {
			continue
		}
		break
	}

	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	where, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	stmt.Where = where
	return stmt, nil
}

func (p *parser) parseDelete() (Statement, error) {
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.tableName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	where, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &Delete{Table: name, Where: where}, nil
}

// Expression precedence, loosest first: OR, AND, NOT, comparison.

func (p *parser) parseExpression() (table.Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = table.Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (table.Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = table.And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (table.Expression, error) {
	if p.acceptKeyword("NOT") {
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return table.Not{Expr: expr}, nil
	}
	if p.acceptSymbol("(") {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (table.Expression, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op, err := p.next()
	if err != nil {
		return nil, err
	}
	switch {
	case op.symbol("="), op.symbol("<"), op.symbol(">"), op.symbol("<="), op.symbol(">="):
	default:
		return nil, fmt.Errorf("expected comparison operator, found %q", op.text)
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return table.Comparison{Left: left, Op: op.text, Right: right}, nil
}

func (p *parser) parseOperand() (table.Operand, error) {
	t, err := p.next()
	if err != nil {
		return table.Operand{}, err
	}
	switch t.kind {
	case tokenIdentifier:
		return table.ColumnRef(t.text), nil
	case tokenString:
		return table.StringLit(t.text), nil
	case tokenNumber:
		return table.IntegerLit(t.text), nil
	default:
		return table.Operand{}, fmt.Errorf("expected operand, found %q", t.text)
	}
}
