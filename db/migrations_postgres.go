package db

// PostgreSQL migrations for share session persistence

var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_share_sessions_table",
		Up: `
			CREATE TABLE IF NOT EXISTS share_sessions (
				id TEXT PRIMARY KEY,
				source_url TEXT,
				platform TEXT NOT NULL,
				status TEXT NOT NULL,
				image_path TEXT,
				message TEXT,
				result_count INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				updated_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_share_sessions_source_url ON share_sessions(source_url);
			CREATE INDEX IF NOT EXISTS idx_share_sessions_created_at ON share_sessions(created_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_share_sessions_created_at;
			DROP INDEX IF EXISTS idx_share_sessions_source_url;
			DROP TABLE IF EXISTS share_sessions;
		`,
	},
	{
		Version: 2,
		Name:    "add_share_sessions_search_id",
		Up: `
			ALTER TABLE share_sessions ADD COLUMN IF NOT EXISTS search_id TEXT;
		`,
		Down: `
			ALTER TABLE share_sessions DROP COLUMN IF EXISTS search_id;
		`,
	},
	{
		Version: 3,
		Name:    "add_share_sessions_status_check",
		Up: `
			ALTER TABLE share_sessions ADD CONSTRAINT share_sessions_status_check
				CHECK (status IN ('pending', 'processing', 'completed'));
		`,
		Down: `
			ALTER TABLE share_sessions DROP CONSTRAINT IF EXISTS share_sessions_status_check;
		`,
	},
}
