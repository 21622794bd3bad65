package database

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
	"github.com/saiset-co/vinyl-tracker/utils"
)

const (
	vinylsCollection     = "vinyls"
	usersCollection      = "users"
	userVinylsCollection = "user_vinyls"
)

// CloverStore persists entities as clover documents. Documents are produced
// from the entities' JSON form, so numeric fields are stored and queried as
// float64. An empty path opens an in-memory database.
type CloverStore struct {
	db          *clover.DB
	logger      types.Logger
	config      *types.DatabaseConfig
	state       types.StateHolder
	mu          sync.Mutex
	nextVinylID int
	nextUserID  int
}

func NewCloverStore(logger types.Logger, config *types.DatabaseConfig) (*CloverStore, error) {
	db, err := clover.Open(config.Path, clover.InMemoryMode(config.Path == ""))
	if err != nil {
		return nil, types.WrapError(err, "failed to open CloverDB")
	}

	return &CloverStore{
		db:          db,
		logger:      logger,
		config:      config,
		nextVinylID: 1,
		nextUserID:  1,
	}, nil
}

func (c *CloverStore) Start() error {
	if !c.state.Transition(types.StateStopped, types.StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	for _, name := range []string{vinylsCollection, usersCollection, userVinylsCollection} {
		if err := c.ensureCollection(name); err != nil {
			c.state.Set(types.StateStopped)
			return err
		}
	}

	var err error
	if c.nextVinylID, err = c.nextID(vinylsCollection); err != nil {
		c.state.Set(types.StateStopped)
		return err
	}
	if c.nextUserID, err = c.nextID(usersCollection); err != nil {
		c.state.Set(types.StateStopped)
		return err
	}

	c.state.Set(types.StateRunning)
	c.logger.Info("CloverDB started", zap.String("path", c.config.Path))
	return nil
}

func (c *CloverStore) Stop() error {
	if !c.state.Transition(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}
	defer c.state.Set(types.StateStopped)

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close CloverDB")
	}

	c.logger.Info("CloverDB stopped gracefully")
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return c.state.IsRunning()
}

func (c *CloverStore) Ping(context.Context) error {
	if !c.IsRunning() {
		return types.ErrStoreNotRunning
	}
	_, err := c.db.HasCollection(vinylsCollection)
	return err
}

func (c *CloverStore) Vinyls() types.VinylRepository {
	return cloverVinyls{c}
}

func (c *CloverStore) Users() types.UserRepository {
	return cloverUsers{c}
}

func (c *CloverStore) UserVinyls() types.UserVinylRepository {
	return cloverLinks{c}
}

func (c *CloverStore) ensureCollection(name string) error {
	exists, err := c.db.HasCollection(name)
	if err != nil {
		return types.WrapError(err, "failed to check collection existence")
	}
	if exists {
		return nil
	}
	if err := c.db.CreateCollection(name); err != nil {
		return types.WrapError(err, "failed to create collection "+name)
	}
	return nil
}

func (c *CloverStore) nextID(collection string) (int, error) {
	docs, err := c.db.Query(collection).FindAll()
	if err != nil {
		return 0, types.WrapError(err, "failed to scan "+collection)
	}

	next := 1
	for _, doc := range docs {
		if id := docInt(doc.Get("id")); id >= next {
			next = id + 1
		}
	}
	return next, nil
}

// upsert replaces the document matched by where, or inserts when none is.
func (c *CloverStore) upsert(collection string, where *clover.Criteria, entity interface{}, nullable ...string) error {
	fields, err := utils.ToMap(entity)
	if err != nil {
		return types.WrapError(err, "failed to encode document")
	}
	for _, name := range nullable {
		if _, ok := fields[name]; !ok {
			fields[name] = nil
		}
	}

	q := c.db.Query(collection).Where(where)
	count, err := q.Count()
	if err != nil {
		return types.WrapError(err, "failed to count matching documents")
	}

	if count > 0 {
		if err := q.Update(fields); err != nil {
			return types.WrapError(err, "failed to update document")
		}
		return nil
	}

	doc := clover.NewDocument()
	for k, v := range fields {
		doc.Set(k, v)
	}
	if err := c.db.Insert(collection, doc); err != nil {
		return types.WrapError(err, "failed to insert document")
	}
	return nil
}

func decodeAll[T any](docs []*clover.Document) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		fields := make(map[string]interface{})
		if err := doc.Unmarshal(&fields); err != nil {
			return nil, types.WrapError(err, "failed to read document")
		}
		delete(fields, "_id")

		entity := new(T)
		if err := utils.FromMap(fields, entity); err != nil {
			return nil, types.WrapError(err, "failed to decode document")
		}
		out = append(out, entity)
	}
	return out, nil
}

func idEq(field string, id int) *clover.Criteria {
	return clover.Field(field).Eq(float64(id))
}

func containsPattern(s string) string {
	return "(?i)" + regexp.QuoteMeta(s)
}

func exactFoldPattern(s string) string {
	return "(?i)^" + regexp.QuoteMeta(s) + "$"
}

func docInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

type cloverVinyls struct {
	c *CloverStore
}

func (r cloverVinyls) find(where *clover.Criteria) ([]*types.Vinyl, error) {
	q := r.c.db.Query(vinylsCollection)
	if where != nil {
		q = q.Where(where)
	}

	docs, err := q.Sort(clover.SortOption{Field: "id", Direction: 1}).FindAll()
	if err != nil {
		return nil, types.WrapError(err, "failed to find vinyls")
	}
	return decodeAll[types.Vinyl](docs)
}

func (r cloverVinyls) FindAll(context.Context) ([]*types.Vinyl, error) {
	return r.find(nil)
}

func (r cloverVinyls) FindByID(_ context.Context, id int) (*types.Vinyl, error) {
	found, err := r.find(idEq("id", id))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, types.ErrNotFound
	}
	return found[0], nil
}

func (r cloverVinyls) ExistsByID(_ context.Context, id int) (bool, error) {
	n, err := r.c.db.Query(vinylsCollection).Where(idEq("id", id)).Count()
	if err != nil {
		return false, types.WrapError(err, "failed to count vinyls")
	}
	return n > 0, nil
}

func (r cloverVinyls) Search(_ context.Context, filter types.VinylFilter) ([]*types.Vinyl, error) {
	var where *clover.Criteria
	and := func(c *clover.Criteria) {
		if where == nil {
			where = c
			return
		}
		where = where.And(c)
	}

	if filter.Title != "" {
		and(clover.Field("title").Like(containsPattern(filter.Title)))
	}
	if filter.Artist != "" {
		and(clover.Field("artist").Like(containsPattern(filter.Artist)))
	}
	if filter.Genre != "" {
		and(clover.Field("genre").Like(exactFoldPattern(filter.Genre)))
	}
	if filter.ReleaseYear != 0 {
		and(idEq("release_year", filter.ReleaseYear))
	}

	return r.find(where)
}

func (r cloverVinyls) SearchText(_ context.Context, query string) ([]*types.Vinyl, error) {
	pattern := containsPattern(query)
	where := clover.Field("title").Like(pattern).
		Or(clover.Field("artist").Like(pattern)).
		Or(clover.Field("genre").Like(pattern))

	if year, err := strconv.Atoi(query); err == nil {
		where = where.Or(idEq("release_year", year))
	}

	return r.find(where)
}

func (r cloverVinyls) FindByUploader(_ context.Context, userID int) ([]*types.Vinyl, error) {
	return r.find(idEq("added_by_id", userID))
}

func (r cloverVinyls) Save(_ context.Context, vinyl *types.Vinyl) (*types.Vinyl, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	return r.saveLocked(vinyl)
}

func (r cloverVinyls) SaveAll(_ context.Context, vinyls []*types.Vinyl) ([]*types.Vinyl, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	out := make([]*types.Vinyl, 0, len(vinyls))
	for _, v := range vinyls {
		saved, err := r.saveLocked(v)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	return out, nil
}

func (r cloverVinyls) saveLocked(vinyl *types.Vinyl) (*types.Vinyl, error) {
	stored := cloneVinyl(vinyl)
	if stored.ID == 0 {
		stored.ID = r.c.nextVinylID
	}
	if stored.ID >= r.c.nextVinylID {
		r.c.nextVinylID = stored.ID + 1
	}

	if err := r.c.upsert(vinylsCollection, idEq("id", stored.ID), stored, "added_by_id"); err != nil {
		return nil, err
	}
	return stored, nil
}

func (r cloverVinyls) DeleteByID(_ context.Context, id int) error {
	if err := r.c.db.Query(vinylsCollection).Where(idEq("id", id)).Delete(); err != nil {
		return types.WrapError(err, "failed to delete vinyl")
	}
	return nil
}

func (r cloverVinyls) DetachUploader(_ context.Context, userID int) ([]int, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	found, err := r.find(idEq("added_by_id", userID))
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(found))
	for _, v := range found {
		ids = append(ids, v.ID)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	err = r.c.db.Query(vinylsCollection).
		Where(idEq("added_by_id", userID)).
		Update(map[string]interface{}{"added_by_id": nil})
	if err != nil {
		return nil, types.WrapError(err, "failed to detach uploader")
	}
	return ids, nil
}

type cloverUsers struct {
	c *CloverStore
}

func (r cloverUsers) find(where *clover.Criteria) ([]*types.User, error) {
	q := r.c.db.Query(usersCollection)
	if where != nil {
		q = q.Where(where)
	}

	docs, err := q.Sort(clover.SortOption{Field: "id", Direction: 1}).FindAll()
	if err != nil {
		return nil, types.WrapError(err, "failed to find users")
	}

	records, err := decodeAll[userRecord](docs)
	if err != nil {
		return nil, err
	}

	out := make([]*types.User, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.user())
	}
	return out, nil
}

func (r cloverUsers) FindAll(context.Context) ([]*types.User, error) {
	return r.find(nil)
}

func (r cloverUsers) FindByID(_ context.Context, id int) (*types.User, error) {
	found, err := r.find(idEq("id", id))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, types.ErrNotFound
	}
	return found[0], nil
}

func (r cloverUsers) FindByUsername(_ context.Context, username string) ([]*types.User, error) {
	return r.find(clover.Field("username").Eq(username))
}

func (r cloverUsers) FindByEmail(_ context.Context, email string) (*types.User, error) {
	found, err := r.find(clover.Field("email").Like(exactFoldPattern(email)))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, types.ErrNotFound
	}
	return found[0], nil
}

func (r cloverUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	if types.IsError(err, types.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r cloverUsers) ExistsByUsername(_ context.Context, username string) (bool, error) {
	n, err := r.c.db.Query(usersCollection).Where(clover.Field("username").Eq(username)).Count()
	if err != nil {
		return false, types.WrapError(err, "failed to count users")
	}
	return n > 0, nil
}

func (r cloverUsers) Save(_ context.Context, user *types.User) (*types.User, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	stored := cloneUser(user)
	if stored.ID == 0 {
		stored.ID = r.c.nextUserID
	}
	if stored.ID >= r.c.nextUserID {
		r.c.nextUserID = stored.ID + 1
	}

	if err := r.c.upsert(usersCollection, idEq("id", stored.ID), newUserRecord(stored)); err != nil {
		return nil, err
	}
	return stored, nil
}

func (r cloverUsers) DeleteByID(_ context.Context, id int) error {
	if err := r.c.db.Query(usersCollection).Where(idEq("id", id)).Delete(); err != nil {
		return types.WrapError(err, "failed to delete user")
	}
	return nil
}

// userRecord is the stored form of a user; types.User hides the hash from JSON.
type userRecord struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	RoleID       int    `json:"role_id"`
}

func newUserRecord(u *types.User) userRecord {
	return userRecord{ID: u.ID, Username: u.Username, Email: u.Email, PasswordHash: u.PasswordHash, RoleID: u.RoleID}
}

func (r *userRecord) user() *types.User {
	return &types.User{ID: r.ID, Username: r.Username, Email: r.Email, PasswordHash: r.PasswordHash, RoleID: r.RoleID}
}

type cloverLinks struct {
	c *CloverStore
}

func linkEq(userID, vinylID int) *clover.Criteria {
	return idEq("user_id", userID).And(idEq("vinyl_id", vinylID))
}

func (r cloverLinks) find(where *clover.Criteria) ([]*types.UserVinyl, error) {
	q := r.c.db.Query(userVinylsCollection)
	if where != nil {
		q = q.Where(where)
	}

	docs, err := q.FindAll()
	if err != nil {
		return nil, types.WrapError(err, "failed to find user vinyls")
	}

	out, err := decodeAll[types.UserVinyl](docs)
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].VinylID < out[j].VinylID
	})
	return out, nil
}

func (r cloverLinks) FindAll(context.Context) ([]*types.UserVinyl, error) {
	return r.find(nil)
}

func (r cloverLinks) Find(_ context.Context, userID, vinylID int) (*types.UserVinyl, error) {
	found, err := r.find(linkEq(userID, vinylID))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, types.ErrNotFound
	}
	return found[0], nil
}

func (r cloverLinks) FindByUser(_ context.Context, userID int) ([]*types.UserVinyl, error) {
	return r.find(idEq("user_id", userID))
}

func (r cloverLinks) FindByVinyl(_ context.Context, vinylID int) ([]*types.UserVinyl, error) {
	return r.find(idEq("vinyl_id", vinylID))
}

func (r cloverLinks) Save(_ context.Context, link *types.UserVinyl) (*types.UserVinyl, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	stored := cloneLink(link)
	if err := r.c.upsert(userVinylsCollection, linkEq(stored.UserID, stored.VinylID), stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (r cloverLinks) Delete(_ context.Context, userID, vinylID int) error {
	if err := r.c.db.Query(userVinylsCollection).Where(linkEq(userID, vinylID)).Delete(); err != nil {
		return types.WrapError(err, "failed to delete user vinyl")
	}
	return nil
}

func (r cloverLinks) DeleteByUser(_ context.Context, userID int) ([]int, error) {
	return r.deleteWhere(idEq("user_id", userID), func(l *types.UserVinyl) int { return l.VinylID })
}

func (r cloverLinks) DeleteByVinyl(_ context.Context, vinylID int) ([]int, error) {
	return r.deleteWhere(idEq("vinyl_id", vinylID), func(l *types.UserVinyl) int { return l.UserID })
}

func (r cloverLinks) deleteWhere(where *clover.Criteria, pick func(*types.UserVinyl) int) ([]int, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	found, err := r.find(where)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(found))
	for _, l := range found {
		ids = append(ids, pick(l))
	}
	sort.Ints(ids)

	if len(ids) > 0 {
		if err := r.c.db.Query(userVinylsCollection).Where(where).Delete(); err != nil {
			return nil, types.WrapError(err, "failed to delete user vinyls")
		}
	}
	return ids, nil
}
