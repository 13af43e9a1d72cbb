package rbac

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"nombre"`
	Description string    `json:"descripcion"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"nombre"`
	Description string `json:"descripcion"`
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    uuid.UUID `json:"usuario_id"`
	RoleID    int64     `json:"rol_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Builtin lists the permissions checked by the credit and cash modules.
// Seed makes sure they exist so roles can be granted them.
var Builtin = []Permission{
	{Name: "caja.movimiento.anular", Description: "Revertir movimientos de caja"},
	{Name: "credito.pago.anular", Description: "Anular pagos de créditos"},
	{Name: "credito.remate", Description: "Enviar a remate y registrar ventas"},
	{Name: "credito.anular", Description: "Anular contratos emitidos por error"},
	{Name: "config.intereses.editar", Description: "Editar la política de intereses"},
	{Name: "caja.cuadre.ver", Description: "Ver cuadres y descuadres de caja"},
	{Name: "permissions.view", Description: "Ver el catálogo de permisos"},
	{Name: PermissionManageRoles, Description: "Crear roles y asignarlos a usuarios"},
}

// PermissionManageRoles guards the role administration routes.
const PermissionManageRoles = "roles.manage"
