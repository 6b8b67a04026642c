package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new API key
func generateAPIKey() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return fmt.Sprintf("as_key_%s", hex.EncodeToString(b))
}

// hashAPIKey hashes an API key for storage
func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// parseCursor decodes a run cursor. An empty cursor means the first page.
func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return seq, nil
}

// runQuery builds the WHERE clause shared by both stores. placeholder returns
// the bind marker for the n-th argument.
func runQuery(filter RunFilter, cursor int64, placeholder func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, placeholder(len(args))))
	}

	if cursor > 0 {
		add("seq < %s", cursor)
	}
	if filter.Network != "" {
		add("network = %s", filter.Network)
	}
	if filter.AppAddress != "" {
		add("LOWER(app_address) = LOWER(%s)", filter.AppAddress)
	}
	if filter.Clean != nil {
		add("clean = %s", *filter.Clean)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// paginate trims rows fetched with LIMIT n+1 to one page.
func paginate(runs []Run, limit int) *PaginatedResult[Run] {
	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}
	result := &PaginatedResult[Run]{Data: runs, HasMore: hasMore}
	if hasMore && len(runs) > 0 {
		result.NextCursor = strconv.FormatInt(runs[len(runs)-1].Seq, 10)
	}
	return result
}
