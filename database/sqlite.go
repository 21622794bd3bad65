package database

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vinyls (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	title        TEXT    NOT NULL,
	artist       TEXT    NOT NULL,
	genre        TEXT    NOT NULL DEFAULT '',
	release_year INTEGER NOT NULL DEFAULT 0,
	description  TEXT    NOT NULL DEFAULT '',
	cover_url    TEXT    NOT NULL DEFAULT '',
	added_by_id  INTEGER NULL
);
CREATE INDEX IF NOT EXISTS idx_vinyls_added_by ON vinyls(added_by_id);

CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT    NOT NULL,
	email         TEXT    NOT NULL,
	password_hash TEXT    NOT NULL DEFAULT '',
	role_id       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

CREATE TABLE IF NOT EXISTS user_vinyls (
	user_id   INTEGER NOT NULL,
	vinyl_id  INTEGER NOT NULL,
	status_id INTEGER NOT NULL,
	PRIMARY KEY (user_id, vinyl_id)
);
CREATE INDEX IF NOT EXISTS idx_user_vinyls_vinyl ON user_vinyls(vinyl_id);
`

const vinylColumns = "id, title, artist, genre, release_year, description, cover_url, added_by_id"

// SQLiteStore keeps the three tables in a SQLite file. An empty path uses a
// private in-memory database pinned to a single connection.
type SQLiteStore struct {
	db     *sql.DB
	logger types.Logger
	config *types.DatabaseConfig
	state  types.StateHolder
}

func NewSQLiteStore(logger types.Logger, config *types.DatabaseConfig) (*SQLiteStore, error) {
	dsn := config.Path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite database")
	}
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db, logger: logger, config: config}, nil
}

func (s *SQLiteStore) Start() error {
	if !s.state.Transition(types.StateStopped, types.StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if _, err := s.db.Exec(sqliteSchema); err != nil {
		s.state.Set(types.StateStopped)
		return types.WrapError(err, "failed to apply sqlite schema")
	}

	s.state.Set(types.StateRunning)
	s.logger.Info("SQLite store started", zap.String("path", s.config.Path))
	return nil
}

func (s *SQLiteStore) Stop() error {
	if !s.state.Transition(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}
	defer s.state.Set(types.StateStopped)

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite database")
	}

	s.logger.Info("SQLite store stopped gracefully")
	return nil
}

func (s *SQLiteStore) IsRunning() bool {
	return s.state.IsRunning()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if !s.IsRunning() {
		return types.ErrStoreNotRunning
	}
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Vinyls() types.VinylRepository {
	return sqliteVinyls{s.db}
}

func (s *SQLiteStore) Users() types.UserRepository {
	return sqliteUsers{s.db}
}

func (s *SQLiteStore) UserVinyls() types.UserVinylRepository {
	return sqliteLinks{s.db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func likeContains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func collectInts(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]int, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type sqliteVinyls struct {
	db *sql.DB
}

func scanVinyl(row rowScanner) (*types.Vinyl, error) {
	var (
		v       types.Vinyl
		addedBy sql.NullInt64
	)
	if err := row.Scan(&v.ID, &v.Title, &v.Artist, &v.Genre, &v.ReleaseYear, &v.Description, &v.CoverURL, &addedBy); err != nil {
		return nil, err
	}
	if addedBy.Valid {
		id := int(addedBy.Int64)
		v.AddedByID = &id
	}
	return &v, nil
}

func (r sqliteVinyls) query(ctx context.Context, where string, args ...interface{}) ([]*types.Vinyl, error) {
	q := "SELECT " + vinylColumns + " FROM vinyls"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, types.WrapError(err, "failed to query vinyls")
	}
	defer rows.Close()

	out := make([]*types.Vinyl, 0)
	for rows.Next() {
		v, err := scanVinyl(rows)
		if err != nil {
			return nil, types.WrapError(err, "failed to scan vinyl")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r sqliteVinyls) FindAll(ctx context.Context) ([]*types.Vinyl, error) {
	return r.query(ctx, "")
}

func (r sqliteVinyls) FindByID(ctx context.Context, id int) (*types.Vinyl, error) {
	v, err := scanVinyl(r.db.QueryRowContext(ctx, "SELECT "+vinylColumns+" FROM vinyls WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, types.WrapError(err, "failed to load vinyl")
	}
	return v, nil
}

func (r sqliteVinyls) ExistsByID(ctx context.Context, id int) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM vinyls WHERE id = ?", id).Scan(&n); err != nil {
		return false, types.WrapError(err, "failed to count vinyls")
	}
	return n > 0, nil
}

func (r sqliteVinyls) Search(ctx context.Context, filter types.VinylFilter) ([]*types.Vinyl, error) {
	var (
		clauses []string
		args    []interface{}
	)

	if filter.Title != "" {
		clauses = append(clauses, `LOWER(title) LIKE LOWER(?) ESCAPE '\'`)
		args = append(args, likeContains(filter.Title))
	}
	if filter.Artist != "" {
		clauses = append(clauses, `LOWER(artist) LIKE LOWER(?) ESCAPE '\'`)
		args = append(args, likeContains(filter.Artist))
	}
	if filter.Genre != "" {
		clauses = append(clauses, "LOWER(genre) = LOWER(?)")
		args = append(args, filter.Genre)
	}
	if filter.ReleaseYear != 0 {
		clauses = append(clauses, "release_year = ?")
		args = append(args, filter.ReleaseYear)
	}

	return r.query(ctx, strings.Join(clauses, " AND "), args...)
}

func (r sqliteVinyls) SearchText(ctx context.Context, query string) ([]*types.Vinyl, error) {
	pattern := likeContains(query)
	where := `LOWER(title) LIKE LOWER(?) ESCAPE '\' OR LOWER(artist) LIKE LOWER(?) ESCAPE '\' OR LOWER(genre) LIKE LOWER(?) ESCAPE '\'`
	args := []interface{}{pattern, pattern, pattern}

	if year, err := strconv.Atoi(query); err == nil {
		where += " OR release_year = ?"
		args = append(args, year)
	}

	return r.query(ctx, where, args...)
}

func (r sqliteVinyls) FindByUploader(ctx context.Context, userID int) ([]*types.Vinyl, error) {
	return r.query(ctx, "added_by_id = ?", userID)
}

func (r sqliteVinyls) Save(ctx context.Context, vinyl *types.Vinyl) (*types.Vinyl, error) {
	return r.save(ctx, r.db, vinyl)
}

func (r sqliteVinyls) SaveAll(ctx context.Context, vinyls []*types.Vinyl) ([]*types.Vinyl, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.WrapError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	out := make([]*types.Vinyl, 0, len(vinyls))
	for _, v := range vinyls {
		saved, err := r.save(ctx, tx, v)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}

	if err := tx.Commit(); err != nil {
		return nil, types.WrapError(err, "failed to commit vinyls")
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r sqliteVinyls) save(ctx context.Context, db execer, vinyl *types.Vinyl) (*types.Vinyl, error) {
	stored := cloneVinyl(vinyl)

	var addedBy interface{}
	if stored.AddedByID != nil {
		addedBy = *stored.AddedByID
	}

	var id interface{}
	if stored.ID != 0 {
		id = stored.ID
	}

	res, err := db.ExecContext(ctx, `
INSERT INTO vinyls (`+vinylColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	artist = excluded.artist,
	genre = excluded.genre,
	release_year = excluded.release_year,
	description = excluded.description,
	cover_url = excluded.cover_url,
	added_by_id = excluded.added_by_id`,
		id, stored.Title, stored.Artist, stored.Genre, stored.ReleaseYear, stored.Description, stored.CoverURL, addedBy)
	if err != nil {
		return nil, types.WrapError(err, "failed to save vinyl")
	}

	if stored.ID == 0 {
		newID, err := res.LastInsertId()
		if err != nil {
			return nil, types.WrapError(err, "failed to read vinyl id")
		}
		stored.ID = int(newID)
	}
	return stored, nil
}

func (r sqliteVinyls) DeleteByID(ctx context.Context, id int) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM vinyls WHERE id = ?", id); err != nil {
		return types.WrapError(err, "failed to delete vinyl")
	}
	return nil
}

func (r sqliteVinyls) DetachUploader(ctx context.Context, userID int) ([]int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.WrapError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	ids, err := collectInts(ctx, tx, "SELECT id FROM vinyls WHERE added_by_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, types.WrapError(err, "failed to find uploaded vinyls")
	}

	if _, err := tx.ExecContext(ctx, "UPDATE vinyls SET added_by_id = NULL WHERE added_by_id = ?", userID); err != nil {
		return nil, types.WrapError(err, "failed to detach uploader")
	}

	if err := tx.Commit(); err != nil {
		return nil, types.WrapError(err, "failed to commit detach")
	}
	return ids, nil
}

type sqliteUsers struct {
	db *sql.DB
}

const userColumns = "id, username, email, password_hash, role_id"

func scanUser(row rowScanner) (*types.User, error) {
	var u types.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.RoleID); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r sqliteUsers) query(ctx context.Context, where string, args ...interface{}) ([]*types.User, error) {
	q := "SELECT " + userColumns + " FROM users"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, types.WrapError(err, "failed to query users")
	}
	defer rows.Close()

	out := make([]*types.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, types.WrapError(err, "failed to scan user")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r sqliteUsers) first(ctx context.Context, where string, args ...interface{}) (*types.User, error) {
	found, err := r.query(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, types.ErrNotFound
	}
	return found[0], nil
}

func (r sqliteUsers) FindAll(ctx context.Context) ([]*types.User, error) {
	return r.query(ctx, "")
}

func (r sqliteUsers) FindByID(ctx context.Context, id int) (*types.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r sqliteUsers) FindByUsername(ctx context.Context, username string) ([]*types.User, error) {
	return r.query(ctx, "username = ?", username)
}

func (r sqliteUsers) FindByEmail(ctx context.Context, email string) (*types.User, error) {
	return r.first(ctx, "LOWER(email) = LOWER(?)", email)
}

func (r sqliteUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM users WHERE LOWER(email) = LOWER(?)", email).Scan(&n); err != nil {
		return false, types.WrapError(err, "failed to count users")
	}
	return n > 0, nil
}

func (r sqliteUsers) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM users WHERE username = ?", username).Scan(&n); err != nil {
		return false, types.WrapError(err, "failed to count users")
	}
	return n > 0, nil
}

func (r sqliteUsers) Save(ctx context.Context, user *types.User) (*types.User, error) {
	stored := cloneUser(user)

	var id interface{}
	if stored.ID != 0 {
		id = stored.ID
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	username = excluded.username,
	email = excluded.email,
	password_hash = excluded.password_hash,
	role_id = excluded.role_id`,
		id, stored.Username, stored.Email, stored.PasswordHash, stored.RoleID)
	if err != nil {
		return nil, types.WrapError(err, "failed to save user")
	}

	if stored.ID == 0 {
		newID, err := res.LastInsertId()
		if err != nil {
			return nil, types.WrapError(err, "failed to read user id")
		}
		stored.ID = int(newID)
	}
	return stored, nil
}

func (r sqliteUsers) DeleteByID(ctx context.Context, id int) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id); err != nil {
		return types.WrapError(err, "failed to delete user")
	}
	return nil
}

type sqliteLinks struct {
	db *sql.DB
}

func (r sqliteLinks) query(ctx context.Context, where string, args ...interface{}) ([]*types.UserVinyl, error) {
	q := "SELECT user_id, vinyl_id, status_id FROM user_vinyls"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY user_id, vinyl_id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, types.WrapError(err, "failed to query user vinyls")
	}
	defer rows.Close()

	out := make([]*types.UserVinyl, 0)
	for rows.Next() {
		var l types.UserVinyl
		if err := rows.Scan(&l.UserID, &l.VinylID, &l.StatusID); err != nil {
			return nil, types.WrapError(err, "failed to scan user vinyl")
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (r sqliteLinks) FindAll(ctx context.Context) ([]*types.UserVinyl, error) {
	return r.query(ctx, "")
}

func (r sqliteLinks) Find(ctx context.Context, userID, vinylID int) (*types.UserVinyl, error) {
	found, err := r.query(ctx, "user_id = ? AND vinyl_id = ?", userID, vinylID)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, types.ErrNotFound
	}
	return found[0], nil
}

func (r sqliteLinks) FindByUser(ctx context.Context, userID int) ([]*types.UserVinyl, error) {
	return r.query(ctx, "user_id = ?", userID)
}

func (r sqliteLinks) FindByVinyl(ctx context.Context, vinylID int) ([]*types.UserVinyl, error) {
	return r.query(ctx, "vinyl_id = ?", vinylID)
}

func (r sqliteLinks) Save(ctx context.Context, link *types.UserVinyl) (*types.UserVinyl, error) {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO user_vinyls (user_id, vinyl_id, status_id) VALUES (?, ?, ?)
ON CONFLICT(user_id, vinyl_id) DO UPDATE SET status_id = excluded.status_id`,
		link.UserID, link.VinylID, link.StatusID)
	if err != nil {
		return nil, types.WrapError(err, "failed to save user vinyl")
	}
	return cloneLink(link), nil
}

func (r sqliteLinks) Delete(ctx context.Context, userID, vinylID int) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM user_vinyls WHERE user_id = ? AND vinyl_id = ?", userID, vinylID); err != nil {
		return types.WrapError(err, "failed to delete user vinyl")
	}
	return nil
}

func (r sqliteLinks) DeleteByUser(ctx context.Context, userID int) ([]int, error) {
	return r.deleteWhere(ctx, "vinyl_id", "user_id", userID)
}

func (r sqliteLinks) DeleteByVinyl(ctx context.Context, vinylID int) ([]int, error) {
	return r.deleteWhere(ctx, "user_id", "vinyl_id", vinylID)
}

// deleteWhere removes every link whose column equals id and returns the
// values of the opposite column.
func (r sqliteLinks) deleteWhere(ctx context.Context, pick, column string, id int) ([]int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.WrapError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	ids, err := collectInts(ctx, tx, "SELECT "+pick+" FROM user_vinyls WHERE "+column+" = ? ORDER BY "+pick, id)
	if err != nil {
		return nil, types.WrapError(err, "failed to find user vinyls")
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM user_vinyls WHERE "+column+" = ?", id); err != nil {
		return nil, types.WrapError(err, "failed to delete user vinyls")
	}

	if err := tx.Commit(); err != nil {
		return nil, types.WrapError(err, "failed to commit delete")
	}
	return ids, nil
}
