package extract

import (
	"errors"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{
			name:   "strips trailing limit",
			answer: "(SELECT * FROM users LIMIT 10)",
			want:   "SELECT * FROM users",
		},
		{
			name:   "no limit",
			answer: "(SELECT COUNT(*) FROM users WHERE signup_date >= '2024-01-01')",
			want:   "SELECT COUNT(*) FROM users WHERE signup_date >= '2024-01-01'",
		},
		{
			name:   "surrounding prose",
			answer: "Here's the query you asked for: (SELECT id FROM accounts;) Hope it helps.",
			want:   "SELECT id FROM accounts",
		},
		{
			name:   "lowercase limit with offset",
			answer: "(select name from users order by name limit 5 offset 10)",
			want:   "select name from users order by name",
		},
		{
			name:   "nested subquery kept whole",
			answer: "(SELECT * FROM (SELECT id FROM t WHERE x IN (1, 2)) s)",
			want:   "SELECT * FROM (SELECT id FROM t WHERE x IN (1, 2)) s",
		},
		{
			name:   "limit inside subquery preserved",
			answer: "(SELECT * FROM (SELECT id FROM t ORDER BY id LIMIT 3) s LIMIT 100)",
			want:   "SELECT * FROM (SELECT id FROM t ORDER BY id LIMIT 3) s",
		},
		{
			name:   "parenthesis inside literal",
			answer: "(SELECT * FROM notes WHERE body = 'smile :)' LIMIT 1)",
			want:   "SELECT * FROM notes WHERE body = 'smile :)'",
		},
		{
			name:   "limit inside literal preserved",
			answer: "(SELECT * FROM rules WHERE name = 'credit limit')",
			want:   "SELECT * FROM rules WHERE name = 'credit limit'",
		},
		{
			name:   "column named like keyword",
			answer: "(SELECT credit_limit FROM accounts)",
			want:   "SELECT credit_limit FROM accounts",
		},
		{
			name:   "fetch first",
			answer: "(SELECT id FROM t ORDER BY id FETCH FIRST 10 ROWS ONLY)",
			want:   "SELECT id FROM t ORDER BY id",
		},
		{
			name:   "only first group used",
			answer: "(SELECT 1) and also (SELECT 2)",
			want:   "SELECT 1",
		},
		{
			name:   "escaped quote in literal",
			answer: "(SELECT * FROM users WHERE last_name = 'O''Brien' LIMIT 2)",
			want:   "SELECT * FROM users WHERE last_name = 'O''Brien'",
		},
		{
			name:   "multibyte literal before limit",
			answer: "(SELECT * FROM customers WHERE city = 'Işıklı Sokağı' LIMIT 10)",
			want:   "SELECT * FROM customers WHERE city = 'Işıklı Sokağı'",
		},
		{
			name:   "letters that change width when upper-cased",
			answer: "(SELECT naſty, ıd FROM ſtats limit 5)",
			want:   "SELECT naſty, ıd FROM ſtats",
		},
		{
			name:   "limit glued to a non-ascii identifier",
			answer: "(SELECT ılimit FROM t)",
			want:   "SELECT ılimit FROM t",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.answer)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractNoQuery(t *testing.T) {
	for _, answer := range []string{
		"",
		"There are 42 users.",
		"()",
		"(  ;  )",
		"(LIMIT 10)",
	} {
		if _, err := Extract(answer); !errors.Is(err, ErrNoQuery) {
			t.Fatalf("Extract(%q) error = %v, want ErrNoQuery", answer, err)
		}
	}
}

func TestExtractFallsBackOnUnbalancedGroup(t *testing.T) {
	got, err := Extract("(SELECT * FROM users WHERE name = 'unterminated)")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "SELECT * FROM users WHERE name = 'unterminated" {
		t.Fatalf("Extract() = %q", got)
	}
}

func TestNormalizeLeavesUnlimitedQueryUntouched(t *testing.T) {
	if got := Normalize("  SELECT a FROM b ;; "); got != "SELECT a FROM b" {
		t.Fatalf("Normalize() = %q", got)
	}
}
