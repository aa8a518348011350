package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/r3e-network/odata-gateway/domain/endpoint"
	"github.com/r3e-network/odata-gateway/infrastructure/errors"
)

// procedureMethod maps an HTTP verb to the @Method value passed to the
// stored procedure.
func procedureMethod(httpMethod string) (string, error) {
	switch httpMethod {
	case "POST":
		return "INSERT", nil
	case "PUT":
		return "UPDATE", nil
	case "DELETE":
		return "DELETE", nil
	default:
		return "", errors.MethodNotAllowed(httpMethod, []string{"POST", "PUT", "DELETE"})
	}
}

// WriteRequest carries a stored-procedure dispatch call.
type WriteRequest struct {
	ConnectionString string
	Endpoint         *endpoint.SQLEndpoint
	HTTPMethod       string
	Principal        string
	Body             map[string]any // POST/PUT: top-level JSON properties
	ID               string         // DELETE: path-supplied id
}

// WriteResult is the `{ success, message, result }` response shape.
type WriteResult struct {
	Success bool
	Message string
	Result  map[string]any
}

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Write dispatches a POST/PUT/DELETE as a stored-procedure call.
func (e *Executor) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	def := req.Endpoint
	if !def.AllowedMethods.Has(req.HTTPMethod) {
		return WriteResult{}, errors.MethodNotAllowed(req.HTTPMethod, def.AllowedMethods.Values())
	}
	if strings.TrimSpace(def.Procedure) == "" {
		return WriteResult{}, errors.InvalidInput("procedure", "endpoint has no procedure configured for writes")
	}
	procMethod, err := procedureMethod(req.HTTPMethod)
	if err != nil {
		return WriteResult{}, err
	}

	if req.HTTPMethod == "PUT" {
		if _, ok := extractID(req.Body); !ok {
			return WriteResult{}, errors.MissingParameter("id")
		}
	}

	query, args, err := buildProcedureCall(def.Schema, def.Procedure, procMethod, req.Principal, req.Body, req.ID)
	if err != nil {
		return WriteResult{}, err
	}

	db, err := e.pools.Get(ctx, req.ConnectionString)
	if err != nil {
		return WriteResult{}, errors.DatabaseError("acquire pool", err)
	}

	start := time.Now()
	rows, err := db.QueryxContext(ctx, query, args...)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.RecordDatabaseQuery("gateway", "sql_write", status, time.Since(start))
	}
	if err != nil {
		return WriteResult{}, errors.DatabaseError("exec "+def.Procedure, err)
	}
	defer rows.Close()

	var result map[string]any
	if rows.Next() {
		result = map[string]any{}
		if err := rows.MapScan(result); err != nil {
			return WriteResult{}, errors.DatabaseError("scan "+def.Procedure, err)
		}
	}
	if err := rows.Err(); err != nil {
		return WriteResult{}, errors.DatabaseError("iterate "+def.Procedure, err)
	}

	return WriteResult{Success: true, Message: fmt.Sprintf("%s succeeded", procMethod), Result: result}, nil
}

// extractID looks for an "id"/"Id"/"ID" property in body, required for PUT
// so the procedure call can target the right row.
func extractID(body map[string]any) (any, bool) {
	for _, key := range []string{"id", "Id", "ID"} {
		if v, ok := body[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func buildProcedureCall(schema, procedure, procMethod, principal string, body map[string]any, id string) (string, []any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "EXEC %s.%s @Method, @UserName", bracket(schema), bracket(procedure))
	args := []any{sql.Named("Method", procMethod), sql.Named("UserName", principal)}

	if procMethod == "DELETE" {
		sb.WriteString(", @id")
		args = append(args, sql.Named("id", id))
		return sb.String(), args, nil
	}

	for field, value := range body {
		if !fieldNameRe.MatchString(field) {
			return "", nil, errors.InvalidInput(field, "field name must be a valid identifier")
		}
		fmt.Fprintf(&sb, ", @%s", field)
		args = append(args, sql.Named(field, value))
	}
	return sb.String(), args, nil
}

func bracket(ident string) string { return "[" + ident + "]" }
