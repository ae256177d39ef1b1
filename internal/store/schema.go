package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tally_slot (
    slot_key             TEXT PRIMARY KEY,
    payload              TEXT NOT NULL,
    ts_ms                INTEGER NOT NULL,
    updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS burn_log (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id           TEXT NOT NULL,
    finished_at          TEXT NOT NULL,
    balance              REAL NOT NULL,
    budget               REAL NOT NULL,
    burned               REAL NOT NULL,
    results              INTEGER NOT NULL,
    model                TEXT,
    payload              TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_burn_log_finished ON burn_log(finished_at);
`

// slotKey is the fixed row key of the single snapshot slot.
const slotKey = "furnace:tally"
