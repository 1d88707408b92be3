package store

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

// Bootstrap creates all system tables and seeds the initial admin user.
// Safe to run on every startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	if err := s.execStatements(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if err := s.seedAdminUser(ctx); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

// execStatements runs a multi-statement DDL script. SQLite's driver only
// accepts one statement per Exec, so the script is split on ";".
func (s *Store) execStatements(ctx context.Context, script string) error {
	if s.driver == "postgres" {
		_, err := s.DB.ExecContext(ctx, script)
		return err
	}
	for _, stmt := range splitStatements(script) {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var stmts []string
	start := 0
	for i := 0; i < len(script); i++ {
		if script[i] == ';' {
			stmt := trimSpace(script[start:i])
			if stmt != "" {
				stmts = append(stmts, stmt)
			}
			start = i + 1
		}
	}
	if stmt := trimSpace(script[start:]); stmt != "" {
		stmts = append(stmts, stmt)
	}
	return stmts
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\n' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\n' || s[j-1] == '\t' || s[j-1] == '\r') {
		j--
	}
	return s[i:j]
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

func (s *Store) seedAdminUser(ctx context.Context) error {
	row, err := QueryRow(ctx, s.DB, "SELECT COUNT(*) AS n FROM _users")
	if err != nil {
		return err
	}
	var count int64
	switch n := row["n"].(type) {
	case int64:
		count = n
	case float64:
		count = int64(n)
	}
	if count > 0 {
		return nil
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	pb := s.Dialect.NewParamBuilder()
	id := GenerateUUID()
	_, err = Exec(ctx, s.DB,
		fmt.Sprintf(`INSERT INTO _users (id, email, name, password_hash, roles) VALUES (%s, %s, %s, %s, %s)`,
			pb.Add(id), pb.Add("admin@localhost"), pb.Add("Administrador"),
			pb.Add(string(hashBytes)), pb.Add(s.Dialect.ArrayParam([]string{"admin"}))),
		pb.Params()...)
	if err != nil {
		return err
	}

	log.Println("WARNING: Default admin user created (admin@localhost / changeme) — change the password immediately.")
	return nil
}
