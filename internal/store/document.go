package store

import (
	"database/sql"

	"github.com/ayusman/handkp/internal/detector"
	"github.com/ayusman/handkp/internal/keypoints"
)

// DocumentRepository stores the keypoint document produced by a run.
type DocumentRepository struct {
	db *sql.DB
}

// Documents returns the document repository for this store.
func (s *Store) Documents() *DocumentRepository {
	return &DocumentRepository{db: s.db}
}

// Save replaces the document stored for runID. Images, hands and landmarks
// keep their positions.
func (r *DocumentRepository) Save(runID string, doc *keypoints.Document) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM run_images WHERE run_id = ?`, runID); err != nil {
		return err
	}

	imageStmt, err := tx.Prepare(`INSERT INTO run_images (run_id, position, filename) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer imageStmt.Close()

	handStmt, err := tx.Prepare(`INSERT INTO run_hands (image_id, position, hand_index) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer handStmt.Close()

	landmarkStmt, err := tx.Prepare(`INSERT INTO run_landmarks (hand_id, landmark_index, x, y, z) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer landmarkStmt.Close()

	for i, img := range doc.Images {
		res, err := imageStmt.Exec(runID, i, img.Filename)
		if err != nil {
			return err
		}
		imageID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		for j, hand := range img.Hands {
			res, err := handStmt.Exec(imageID, j, hand.HandIndex)
			if err != nil {
				return err
			}
			handID, err := res.LastInsertId()
			if err != nil {
				return err
			}

			for k, lm := range hand.Landmarks {
				if _, err := landmarkStmt.Exec(handID, k, lm.X, lm.Y, lm.Z); err != nil {
					return err
				}
			}
		}
	}

	return tx.Commit()
}

// Load rebuilds the document stored for runID. It returns ErrNotFound when
// the run does not exist; a run without a stored document yields an empty one.
func (r *DocumentRepository) Load(runID string) (*keypoints.Document, error) {
	var exists int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	doc := &keypoints.Document{Images: []keypoints.ImageRecord{}}
	imagePos := make(map[int64]int)

	rows, err := r.db.Query(
		`SELECT id, filename FROM run_images WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		var filename string
		if err := rows.Scan(&id, &filename); err != nil {
			rows.Close()
			return nil, err
		}
		imagePos[id] = len(doc.Images)
		doc.Images = append(doc.Images, keypoints.ImageRecord{Filename: filename, Hands: []keypoints.HandRecord{}})
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	type handRef struct{ image, hand int }
	handPos := make(map[int64]handRef)

	rows, err = r.db.Query(
		`SELECT h.id, h.image_id, h.hand_index
		 FROM run_hands h JOIN run_images i ON i.id = h.image_id
		 WHERE i.run_id = ? ORDER BY i.position, h.position`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id, imageID int64
		var handIndex int
		if err := rows.Scan(&id, &imageID, &handIndex); err != nil {
			rows.Close()
			return nil, err
		}
		img := &doc.Images[imagePos[imageID]]
		handPos[id] = handRef{image: imagePos[imageID], hand: len(img.Hands)}
		img.Hands = append(img.Hands, keypoints.HandRecord{HandIndex: handIndex, Landmarks: []detector.Point3D{}})
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(
		`SELECT l.hand_id, l.x, l.y, l.z
		 FROM run_landmarks l
		 JOIN run_hands h ON h.id = l.hand_id
		 JOIN run_images i ON i.id = h.image_id
		 WHERE i.run_id = ? ORDER BY i.position, h.position, l.landmark_index`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var handID int64
		var p detector.Point3D
		if err := rows.Scan(&handID, &p.X, &p.Y, &p.Z); err != nil {
			rows.Close()
			return nil, err
		}
		ref := handPos[handID]
		hand := &doc.Images[ref.image].Hands[ref.hand]
		hand.Landmarks = append(hand.Landmarks, p)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	return doc, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
