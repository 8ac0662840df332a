// Package postgres stores process runs in PostgreSQL through pgx
package postgres
