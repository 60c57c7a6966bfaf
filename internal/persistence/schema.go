package persistence

// schemaStatements are the DDL statements shared by both backends, with
// $1-style type differences (TEXT vs TIMESTAMPTZ) left to each driver's
// own schema.go. This file only documents the column layout both backends
// agree on:
//
//	transactions(transaction_id PK, call_id, session_id, policy_class,
//	  client_format, stream, original_request, final_request,
//	  original_response, final_response, received_at, upstream_at,
//	  completed_at, error)
//
//	events(id PK, type, timestamp, transaction_id, session_id, name, data,
//	  error, trace_id)
//
// Request/response/error columns are JSON blobs; the canonical types
// already carry `json` tags so no intermediate DTO is needed.
