package db

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaDeclaresEveryTable(t *testing.T) {
	tables := []string{
		"tenant_config", "cajas_operativas", "clientes", "garantias", "creditos",
		"movimientos_caja", "pagos", "idempotency_keys", "mora_snapshots", "descuadres",
		"audit_logs", "roles", "permissions", "role_permissions", "user_roles",
	}
	for _, table := range tables {
		pattern := regexp.MustCompile(`CREATE TABLE IF NOT EXISTS ` + table + ` \(`)
		assert.Truef(t, pattern.MatchString(Schema), "missing table %s", table)
	}
}

func TestSchemaEnforcesOneOpenRegisterPerOperator(t *testing.T) {
	require.Regexp(t, `(?s)CREATE UNIQUE INDEX IF NOT EXISTS cajas_operativas_una_abierta\s+ON cajas_operativas \(usuario_id\) WHERE estado = 'ABIERTA'`, Schema)
	require.Contains(t, Schema, "UNIQUE (caja_id, fecha)")
	require.Contains(t, Schema, "PRIMARY KEY (credito_id, fecha)")
	require.Contains(t, Schema, "CREATE SEQUENCE IF NOT EXISTS creditos_codigo_seq")
}

func TestWithTxRequiresPool(t *testing.T) {
	err := WithTx(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrPoolMissing)

	err = Migrate(context.Background(), nil)
	require.ErrorIs(t, err, ErrPoolMissing)
}
