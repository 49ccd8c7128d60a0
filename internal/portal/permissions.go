package portal

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sort"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/permission"
)

type matrixRow struct {
	Resource string
	// Cells holds the actions of each role, in Roles order.
	Cells [][]string
}

type permissionMatrixData struct {
	Roles  []identity.Role
	Rows   []matrixRow
	Failed []identity.Role
}

func (h *Handler) permissionMatrix(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	roles := identity.Roles()
	sets := make(map[identity.Role]*permission.RoleSet, len(roles))
	var failed []identity.Role
	for _, role := range roles {
		set, err := ws.Client.RolePermissions(r.Context(), role)
		if err != nil {
			if errors.Is(err, backend.ErrUnauthorized) {
				h.backendFailure(w, r, ws, err)
				return
			}
			h.logger.Warn("load role permissions", slog.String("role", role.String()), slog.Any("error", err))
			failed = append(failed, role)
			continue
		}
		sets[role] = set
	}
	data := buildMatrix(roles, sets)
	data.Failed = failed
	h.render(w, r, http.StatusOK, "pages/permissions.html", "Permissions", data)
}

func buildMatrix(roles []identity.Role, sets map[identity.Role]*permission.RoleSet) permissionMatrixData {
	seen := make(map[string]bool)
	for _, set := range sets {
		for resource := range set.Resources {
			seen[resource] = true
		}
	}
	resources := make([]string, 0, len(seen))
	for resource := range seen {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	rows := make([]matrixRow, 0, len(resources))
	for _, resource := range resources {
		row := matrixRow{Resource: resource, Cells: make([][]string, len(roles))}
		for i, role := range roles {
			set := sets[role]
			if set == nil {
				continue
			}
			actions := slices.Clone(set.Resources[resource].Actions)
			sort.Strings(actions)
			row.Cells[i] = actions
		}
		rows = append(rows, row)
	}
	return permissionMatrixData{Roles: roles, Rows: rows}
}
