package apply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyDriverCodes(t *testing.T) {
	cases := []struct {
		code string
		want Decision
	}{
		{"42P07", Ignorable},
		{"42P06", Ignorable},
		{"42710", Ignorable},
		{"42723", Ignorable},
		{"42701", Ignorable},
		{"23505", Ignorable},
		{"08006", Fatal},
		{"08001", Fatal},
		{"42601", Failure}, // syntax error
		{"23503", Failure}, // foreign_key_violation
	}
	for _, tc := range cases {
		err := &pgconn.PgError{Code: tc.code, Message: "whatever"}
		if got := Classify(err); got != tc.want {
			t.Errorf("Classify(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassifyMessageFallback(t *testing.T) {
	cases := []struct {
		msg  string
		want Decision
	}{
		{`relation "users" already exists`, Ignorable},
		{"duplicate key value", Ignorable},
		{"dial tcp: connection refused", Fatal},
		{"write: broken pipe", Fatal},
		{"syntax error at or near", Failure},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg)); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestClassifyWrappedDriverError(t *testing.T) {
	inner := &pgconn.PgError{Code: "42P07"}
	err := fmt.Errorf("creating table: %w", inner)
	if got := Classify(err); got != Ignorable {
		t.Errorf("wrapped PgError classified as %v, want Ignorable", got)
	}
}

type scriptedExec struct {
	execs []string
	errs  map[string]error // statement substring -> error
}

func (s *scriptedExec) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, sql)
	for frag, err := range s.errs {
		if strings.Contains(sql, frag) {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.CommandTag{}, nil
}

func TestApplyScriptContinuesPastFailures(t *testing.T) {
	dst := &scriptedExec{errs: map[string]error{
		"bad_table": errors.New("syntax error at or near"),
		"dup_table": &pgconn.PgError{Code: "42P07", Message: "already exists"},
	}}
	a := New(dst)

	script := strings.Join([]string{
		"CREATE TABLE good_one(id int);",
		"CREATE TABLE bad_table(;",
		"CREATE TABLE dup_table(id int);",
		"CREATE TABLE good_two(id int);",
	}, "\n")

	res, err := a.ApplyScript(context.Background(), script)
	if err != nil {
		t.Fatalf("ApplyScript: %v", err)
	}
	if res.Succeeded != 2 || res.Skipped != 1 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(dst.execs) != 4 {
		t.Errorf("executed %d statements, want all 4", len(dst.execs))
	}
}

func TestApplyStopsOnFatalError(t *testing.T) {
	dst := &scriptedExec{errs: map[string]error{
		"second": &pgconn.PgError{Code: "08006", Message: "connection terminated"},
	}}
	a := New(dst)

	res, err := a.ApplyStatements(context.Background(), []string{
		"CREATE TABLE first(id int)",
		"CREATE TABLE second(id int)",
		"CREATE TABLE third(id int)",
	})
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if len(dst.execs) != 2 {
		t.Errorf("executed %d statements, want 2 (third must not run)", len(dst.execs))
	}
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestApplyHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dst := &scriptedExec{}
	_, err := New(dst).ApplyStatements(ctx, []string{"SELECT 1"})
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(dst.execs) != 0 {
		t.Errorf("executed %d statements after cancellation", len(dst.execs))
	}
}
