package migrations

import (
	"database/sql"
	"fmt"
)

// lookupIndexes back the queries run on every provisioning request: record
// replacement by (zone, name, type), reverse lookups by name, service
// listing by owner and scheme, and DHCP bindings by address.
var lookupIndexes = []struct {
	name, table, columns string
}{
	{"idx_records_domain_name_type", "records", "domain_id, name, type"},
	{"idx_records_name_type", "records", "name, type"},
	{"idx_services_fqdn", "services", "fqdn"},
	{"idx_services_scheme", "services", "scheme"},
	{"idx_dhcp_records_ip_address", "dhcp_records", "ip_address"},
}

// GetIndexMigrations returns the secondary index migrations.
func GetIndexMigrations() []Migration {
	return []Migration{
		{
			Version: 10,
			Name:    "add_lookup_indexes",
			Up: func(tx *sql.Tx) error {
				stmts := make([]string, 0, len(lookupIndexes))
				for _, idx := range lookupIndexes {
					stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.name, idx.table, idx.columns))
				}
				return execAll(tx, stmts...)
			},
			Down: func(tx *sql.Tx) error {
				stmts := make([]string, 0, len(lookupIndexes))
				for _, idx := range lookupIndexes {
					stmts = append(stmts, "DROP INDEX IF EXISTS "+idx.name)
				}
				return execAll(tx, stmts...)
			},
		},
	}
}
