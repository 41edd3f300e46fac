package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyRows_Empty(t *testing.T) {
	n, err := CopyRows(context.Background(), nil, "node_executions", []string{"a"}, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestCopyRows_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"node_executions"}, []string{"id", "node"}).WillReturnResult(2)

	n, err := CopyRows(context.Background(), mock, "node_executions", []string{"id", "node"},
		[][]any{{"1", "classify"}, {"2", "validate"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyRows_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"audit", "node_executions"}, []string{"id"}).WillReturnResult(1)

	_, err = CopyRows(context.Background(), mock, "audit.node_executions", []string{"id"}, [][]any{{"1"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyRows_ShapeMismatch(t *testing.T) {
	_, err := CopyRows(context.Background(), nil, "t", []string{"a", "b"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0")
}

func TestCopyRows_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"t"}, []string{"a"}).WillReturnError(errors.New("copy failed"))

	_, err = CopyRows(context.Background(), mock, "t", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy into t")
}
