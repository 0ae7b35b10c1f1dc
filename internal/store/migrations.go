package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per extract, render or combined run
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK(kind IN ('extract', 'render', 'run')),
			status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'completed', 'failed')),
			input_dir TEXT NOT NULL,
			output_dir TEXT NOT NULL DEFAULT '',
			artifact TEXT NOT NULL DEFAULT '',
			images INTEGER NOT NULL DEFAULT 0,
			hands INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,

		// Run images table - image records of the document produced by a run
		`CREATE TABLE IF NOT EXISTS run_images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			filename TEXT NOT NULL,
			UNIQUE(run_id, position)
		)`,

		// Run hands table - hand records in detector order per image
		`CREATE TABLE IF NOT EXISTS run_hands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			image_id INTEGER NOT NULL REFERENCES run_images(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			hand_index INTEGER NOT NULL
		)`,

		// Run landmarks table - positional keypoints of each hand
		`CREATE TABLE IF NOT EXISTS run_landmarks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hand_id INTEGER NOT NULL REFERENCES run_hands(id) ON DELETE CASCADE,
			landmark_index INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_run_images_run_id ON run_images(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_run_hands_image_id ON run_hands(image_id)`,
		`CREATE INDEX IF NOT EXISTS idx_run_landmarks_hand_id ON run_landmarks(hand_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
