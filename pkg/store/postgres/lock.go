package postgres

import (
	"crypto/md5"
	"encoding/binary"
	"math"
)

// lockID derives a stable advisory lock key from a name. PostgreSQL advisory
// locks take int64 keys; the sign bit is cleared so keys read naturally in
// pg_locks.
func lockID(name string) int64 {
	hash := md5.Sum([]byte(name))
	return int64(binary.BigEndian.Uint64(hash[:8]) & math.MaxInt64)
}
