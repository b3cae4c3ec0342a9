package migrations

import (
	"database/sql"
)

// execAll runs each statement in order, stopping at the first failure.
func execAll(tx *sql.Tx, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetInitialMigrations returns all initial migrations
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_identity_tables",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE principals (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						secret TEXT NOT NULL DEFAULT '',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE hosts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						fqdn TEXT NOT NULL UNIQUE,
						main_ip_address TEXT NOT NULL DEFAULT '',
						main_mac_address TEXT NOT NULL DEFAULT '',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE mount_points (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						host_id INTEGER NOT NULL,
						mount_point TEXT NOT NULL,
						device TEXT NOT NULL,
						fs_type TEXT NOT NULL,
						options TEXT NOT NULL DEFAULT '',
						UNIQUE (host_id, mount_point),
						FOREIGN KEY (host_id) REFERENCES hosts(id) ON DELETE CASCADE
					)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					`DROP TABLE IF EXISTS mount_points`,
					`DROP TABLE IF EXISTS hosts`,
					`DROP TABLE IF EXISTS principals`,
				)
			},
		},
		{
			Version: 2,
			Name:    "create_services_tables",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE services (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						fqdn TEXT NOT NULL,
						scheme TEXT NOT NULL,
						hostname TEXT NOT NULL,
						port INTEGER NOT NULL,
						protocol TEXT NOT NULL,
						kerberos_service TEXT NOT NULL DEFAULT '',
						description TEXT NOT NULL DEFAULT '',
						dns_srv TEXT NOT NULL DEFAULT '',
						encryption TEXT NOT NULL DEFAULT 'none',
						role TEXT NOT NULL DEFAULT 'service',
						UNIQUE (fqdn, scheme, hostname, port, protocol)
					)`,
					// One owning fqdn per public service name.
					`CREATE TABLE service_hostnames (
						hostname TEXT PRIMARY KEY,
						fqdn TEXT NOT NULL
					)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					`DROP TABLE IF EXISTS service_hostnames`,
					`DROP TABLE IF EXISTS services`,
				)
			},
		},
		{
			Version: 3,
			Name:    "create_dns_tables",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE domains (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						type TEXT NOT NULL DEFAULT 'NATIVE'
					)`,
					`CREATE TABLE records (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						domain_id INTEGER NOT NULL,
						name TEXT NOT NULL,
						type TEXT NOT NULL,
						content TEXT NOT NULL,
						ttl INTEGER NOT NULL DEFAULT 3600,
						FOREIGN KEY (domain_id) REFERENCES domains(id) ON DELETE CASCADE
					)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					`DROP TABLE IF EXISTS records`,
					`DROP TABLE IF EXISTS domains`,
				)
			},
		},
		{
			Version: 4,
			Name:    "create_dhcp_records_table",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE dhcp_records (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						mac_address TEXT NOT NULL UNIQUE,
						ip_address TEXT NOT NULL,
						hostname TEXT NOT NULL
					)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx, `DROP TABLE IF EXISTS dhcp_records`)
			},
		},
	}
}
