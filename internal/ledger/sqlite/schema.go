package sqlite

// Schema DDL. Occupied-unit and reservation-unit sets are stored as JSON
// arrays; the version column carries the CAS discipline.
const (
	createItems = `CREATE TABLE IF NOT EXISTS items (
    item_id TEXT PRIMARY KEY,
    capacity INTEGER NOT NULL,
    occupied_units TEXT NOT NULL DEFAULT '[]',
    version INTEGER NOT NULL DEFAULT 0,
    updated_at_unix INTEGER NOT NULL DEFAULT 0
);`

	createGuards = `CREATE TABLE IF NOT EXISTS guards (
    request_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    outcome TEXT,
    created_at_unix INTEGER NOT NULL,
    finished_at_unix INTEGER NOT NULL DEFAULT 0
);`

	createGuardsCreatedIdx = `CREATE INDEX IF NOT EXISTS guards_created_at
    ON guards (created_at_unix);`

	createReservations = `CREATE TABLE IF NOT EXISTS reservations (
    reservation_id TEXT PRIMARY KEY,
    item_id TEXT NOT NULL,
    units TEXT NOT NULL,
    committed_version INTEGER NOT NULL,
    created_at_unix INTEGER NOT NULL DEFAULT 0,
    released_at_unix INTEGER NOT NULL DEFAULT 0
);`
)

var schemaStatements = []string{
	createItems,
	createGuards,
	createGuardsCreatedIdx,
	createReservations,
}
