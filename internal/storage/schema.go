package storage

// Timestamps are TEXT in RFC 3339 (UTC); review days are TEXT 'YYYY-MM-DD' in
// the scheduler's timezone so that due queries compare lexically.
const schema = `
-- The 'sources' table tracks the origin of decks, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local', -- local | git
    last_scanned TEXT
);

-- The 'cards' table stores each flashcard and its SM-2 schedule.
CREATE TABLE IF NOT EXISTS cards (
    hash TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    repetitions INTEGER NOT NULL DEFAULT 0,
    ease_factor REAL NOT NULL DEFAULT 2.5,
    interval_days INTEGER NOT NULL DEFAULT 1,
    next_review TEXT NOT NULL,
    last_review TEXT,
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);

CREATE INDEX IF NOT EXISTS cards_next_review ON cards(next_review);

-- The 'review_logs' table is the append-only audit trail of reviews.
CREATE TABLE IF NOT EXISTS review_logs (
    id TEXT PRIMARY KEY,
    card_hash TEXT NOT NULL,
    reviewed_at TEXT NOT NULL,
    quality INTEGER NOT NULL,
    interval_before INTEGER NOT NULL,
    interval_after INTEGER NOT NULL,
    ease_factor REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS review_logs_card ON review_logs(card_hash, reviewed_at);

-- The 'sessions' table stores recurring study sessions and their current occurrence.
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    pattern TEXT NOT NULL DEFAULT 'none',
    start_at TEXT NOT NULL,
    end_at TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'upcoming',
    version INTEGER NOT NULL DEFAULT 1,
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);
`
