package store

import (
	"strconv"
	"strings"
)

// rebind rewrites a query written with sqlite-style "?" placeholders
// into postgres-style "$1", "$2", ... placeholders when dialect is
// "postgres". sqlite passes the query through unchanged. This is the
// one piece of glue code dialect divergence actually requires once
// schema and upsert syntax are written portably (see migrations/); it
// lets every CRUD method in sql_common.go be written once.
func rebind(dialect, query string) string {
	if dialect != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
