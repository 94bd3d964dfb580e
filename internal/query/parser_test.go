package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_Use(t *testing.T) {
	stmt, err := Parse("USE metrics")
	require.NoError(t, err)
	require.Equal(t, UseStmt{Database: "metrics"}, stmt)
}

func TestParse_CreateDBAndCreate(t *testing.T) {
	stmt, err := Parse("CREATEDB metrics")
	require.NoError(t, err)
	require.Equal(t, CreateDBStmt{Database: "metrics"}, stmt)

	stmt, err = Parse("CREATE cpu")
	require.NoError(t, err)
	require.Equal(t, CreateStmt{Series: "cpu"}, stmt)
}

func TestParse_Meta(t *testing.T) {
	stmt, err := Parse(".databases")
	require.NoError(t, err)
	require.Equal(t, MetaStmt{Kind: MetaDatabases}, stmt)

	stmt, err = Parse(".timeseries")
	require.NoError(t, err)
	require.Equal(t, MetaStmt{Kind: MetaTimeseries}, stmt)
}

func TestParse_InsertSingleAndMultiTuple(t *testing.T) {
	stmt, err := Parse("INSERT INTO cpu VALUES (now(), 42.5)")
	require.NoError(t, err)
	ins, ok := stmt.(InsertStmt)
	require.True(t, ok)
	require.Equal(t, "cpu", ins.Series)
	require.Len(t, ins.Values, 1)
	require.Equal(t, NowLit{}, ins.Values[0].Time)
	require.InDelta(t, 42.5, ins.Values[0].Value, 1e-9)

	stmt, err = Parse("INSERT INTO cpu VALUES (1700000000, 1), (1700000001, 2)")
	require.NoError(t, err)
	ins = stmt.(InsertStmt)
	require.Len(t, ins.Values, 2)
	require.Equal(t, IntLit{Value: 1700000001}, ins.Values[1].Time)
}

func TestParse_SelectFull(t *testing.T) {
	stmt, err := Parse(
		"SELECT avg(value) FROM cpu BETWEEN 1700000000 AND now() " +
			"WHERE value > 10 AND value <= 20 SAMPLE BY 5m LIMIT 100",
	)
	require.NoError(t, err)
	sel, ok := stmt.(SelectStmt)
	require.True(t, ok)
	require.Equal(t, "avg", sel.Func)
	require.Equal(t, "value", sel.Column)
	require.Equal(t, "cpu", sel.Series)
	require.Equal(t, IntLit{Value: 1700000000}, sel.RangeFrom)
	require.Equal(t, NowLit{}, sel.RangeTo)
	require.Len(t, sel.Where, 2)
	require.Equal(t, ">", sel.Where[0].Op)
	require.Equal(t, "<=", sel.Where[1].Op)
	require.Equal(t, TimespanLit{Value: "5m"}, sel.SampleBy)
	require.True(t, sel.HasLimit)
	require.Equal(t, 100, sel.Limit)
}

func TestParse_SelectBareColumnNoOptionalClauses(t *testing.T) {
	stmt, err := Parse("SELECT value FROM cpu")
	require.NoError(t, err)
	sel := stmt.(SelectStmt)
	require.Equal(t, "", sel.Func)
	require.Equal(t, "value", sel.Column)
	require.Nil(t, sel.RangeFrom)
	require.Nil(t, sel.RangeTo)
	require.Empty(t, sel.Where)
	require.False(t, sel.HasLimit)
}

func TestParse_TimeUnitArithmeticPrecedence(t *testing.T) {
	stmt, err := Parse("SELECT value FROM cpu BETWEEN now() - 2*7d AND now()")
	require.NoError(t, err)
	sel := stmt.(SelectStmt)
	expr, ok := sel.RangeFrom.(BinaryExpr)
	require.True(t, ok)
	require.Equal(t, byte('-'), expr.Op)
	require.Equal(t, NowLit{}, expr.Left)
	mul, ok := expr.Right.(BinaryExpr)
	require.True(t, ok)
	require.Equal(t, byte('*'), mul.Op)
	require.Equal(t, IntLit{Value: 2}, mul.Left)
	require.Equal(t, TimespanLit{Value: "7d"}, mul.Right)
}

func TestParse_Delete(t *testing.T) {
	stmt, err := Parse("DELETE cpu")
	require.NoError(t, err)
	require.Equal(t, DeleteStmt{Series: "cpu"}, stmt)
}

func TestParse_MalformedStatementErrors(t *testing.T) {
	_, err := Parse("SELECT value cpu")
	require.Error(t, err)

	_, err = Parse("INSERT INTO cpu VALUES (1, 2")
	require.Error(t, err)

	_, err = Parse("BOGUS")
	require.Error(t, err)
}
