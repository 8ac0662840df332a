// Package storage provides process store implementations.
//
// Implementations:
//   - memory: In-memory map, the default
//   - redis: Redis with JSON serialization and TTL
//   - postgres: PostgreSQL JSONB table via pgx
package storage
