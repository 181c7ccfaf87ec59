package models

import (
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"

	"gorm.io/gorm/schema"
)

var createTable = regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS (\w+) \((.*?)\n\);`)

// migratedColumns maps each table created by the initial migration to its columns.
func migratedColumns(t *testing.T) map[string]map[string]bool {
	t.Helper()
	sql, err := os.ReadFile("../../migrations/000001_init_schema.up.sql")
	if err != nil {
		t.Fatalf("reading migration: %v", err)
	}
	tables := map[string]map[string]bool{}
	for _, m := range createTable.FindAllStringSubmatch(string(sql), -1) {
		cols := map[string]bool{}
		for _, line := range strings.Split(m[2], "\n") {
			fields := strings.Fields(line)
			if len(fields) > 1 && fields[0] != "CONSTRAINT" {
				cols[fields[0]] = true
			}
		}
		tables[m[1]] = cols
	}
	return tables
}

func TestModelsMatchMigrations(t *testing.T) {
	tables := migratedColumns(t)

	cache := &sync.Map{}
	for _, model := range []interface{}{&User{}, &Subscription{}, &AIProviderConfig{}, &AlertDelivery{}, &AuditLog{}} {
		s, err := schema.Parse(model, cache, schema.NamingStrategy{})
		if err != nil {
			t.Fatalf("parsing %T: %v", model, err)
		}
		cols, ok := tables[s.Table]
		if !ok {
			t.Errorf("%T maps to table %q, which the migration does not create", model, s.Table)
			continue
		}
		for _, f := range s.Fields {
			if f.DBName != "" && !cols[f.DBName] {
				t.Errorf("%s.%s has no column in the migration", s.Table, f.DBName)
			}
		}
	}
}
