package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	statements []string
	failAt     int
}

func (e *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.statements = append(e.statements, sql)
	if e.failAt > 0 && len(e.statements) == e.failAt {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}
	return pgconn.CommandTag{}, nil
}

func TestEnsureSchema(t *testing.T) {
	exec := &recordingExecer{}
	require.NoError(t, EnsureSchema(context.Background(), exec, "", 1536))

	require.Len(t, exec.statements, 3)
	assert.Contains(t, exec.statements[0], "CREATE EXTENSION IF NOT EXISTS vector")
	assert.Contains(t, exec.statements[1], "CREATE TABLE IF NOT EXISTS rag_chunks")
	assert.Contains(t, exec.statements[1], "vector(1536)")
	assert.Contains(t, exec.statements[2], "rag_chunks_level_published_idx")
}

func TestEnsureSchema_Validation(t *testing.T) {
	exec := &recordingExecer{}
	assert.Error(t, EnsureSchema(context.Background(), exec, "chunks; DROP TABLE x", 3))
	assert.Error(t, EnsureSchema(context.Background(), exec, "chunks", 0))
	assert.Empty(t, exec.statements)
}

func TestEnsureSchema_StopsOnFailure(t *testing.T) {
	exec := &recordingExecer{failAt: 2}
	err := EnsureSchema(context.Background(), exec, "chunks", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Len(t, exec.statements, 2)
}
