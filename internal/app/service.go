package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"commentary/api/internal/config"
	"commentary/api/internal/paging"
	"commentary/api/internal/search"
	"commentary/api/internal/store"
	"commentary/api/internal/util"
)

// UserView is the client-facing shape of a comment author.
type UserView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CommentView is the client-facing shape of a comment. User is null when the
// referenced user record is absent.
type CommentView struct {
	ID              string    `json:"id"`
	TopicID         string    `json:"topicId"`
	Comment         string    `json:"comment"`
	CreatedDate     time.Time `json:"createdDate"`
	LastChangedDate time.Time `json:"lastChangedDate"`
	User            *UserView `json:"user"`
}

type Pagination struct {
	TotalPages int `json:"totalPages"`
	Page       int `json:"page"`
	Size       int `json:"size"`
}

type PageResponse struct {
	Items      []CommentView `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

type dataStore interface {
	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	SaveComment(context.Context, store.Comment) error
	DeleteComment(context.Context, string) error
	ListCommentsByOrg(context.Context, string) ([]store.Comment, error)
	ListCommentsByOrgAndTopic(context.Context, string, string) ([]store.Comment, error)
	FindCommentsPage(ctx context.Context, orgNumber string, offset, limit int, sortField, direction string) ([]store.Comment, error)
	CountCommentsByOrg(context.Context, string) (int64, error)
	UserExists(context.Context, string) (bool, error)
	InsertUser(context.Context, store.User) error
	GetUser(context.Context, string) (store.User, error)
	Ping(ctx context.Context) error
}

type writeLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

type commentSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexComment(record search.CommentRecord)
	DeleteComment(id string)
}

type Service struct {
	cfg     config.Config
	store   dataStore
	limiter writeLimiter
	search  commentSearch
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{cfg: cfg, store: dataStore}
}

// WithLimiter attaches a write rate limiter.
func (s *Service) WithLimiter(limiter writeLimiter) *Service {
	s.limiter = limiter
	return s
}

// WithSearch attaches a comment search backend.
func (s *Service) WithSearch(searchService *search.Service) *Service {
	s.search = searchService
	return s
}

func (s *Service) JWTSecret() []byte {
	return []byte(s.cfg.JWTSecret)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AllowWrite consults the rate limiter. Without a limiter every write is
// allowed.
func (s *Service) AllowWrite(ctx context.Context, userID string) (bool, error) {
	if s.limiter == nil {
		return true, nil
	}
	return s.limiter.Allow(ctx, userID)
}

func (s *Service) createUserIfNotExists(ctx context.Context, userID, name, email string) {
	exists, err := s.store.UserExists(ctx, userID)
	if err == nil && exists {
		return
	}
	if err != nil {
		log.Printf("check user %s failed: %v", userID, err)
		return
	}
	if err := s.store.InsertUser(ctx, store.User{ID: userID, Name: name, Email: email}); err != nil {
		// Swallowed: the existence re-check in Create is the real gate.
		log.Printf("insert user %s failed: %v", userID, err)
	}
}

// Create stores a new comment for org/topic authored by userID, lazily
// materializing the user record from the claims. The returned view is
// enriched with the author's display data.
func (s *Service) Create(ctx context.Context, orgNumber, topicID, body, userID, name, email string) (CommentView, error) {
	s.createUserIfNotExists(ctx, userID, name, email)

	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return CommentView{}, err
	}
	if !exists {
		return CommentView{}, notFound("User not found")
	}

	now := time.Now().UTC()
	record := store.Comment{
		ID:              util.NewID("c"),
		OrgNumber:       orgNumber,
		TopicID:         topicID,
		UserID:          userID,
		Body:            body,
		CreatedDate:     now,
		LastChangedDate: now,
	}
	if err := s.store.InsertComment(ctx, record); err != nil {
		return CommentView{}, err
	}
	s.indexComment(record)

	return s.enrich(ctx, record, record.UserID), nil
}

// ListByOrg returns every comment for an org in the store's natural order.
func (s *Service) ListByOrg(ctx context.Context, orgNumber string) ([]CommentView, error) {
	records, err := s.store.ListCommentsByOrg(ctx, orgNumber)
	if err != nil {
		return nil, err
	}
	return s.enrichAll(ctx, records), nil
}

// ListByOrgAndTopic returns every comment for one topic within an org.
func (s *Service) ListByOrgAndTopic(ctx context.Context, orgNumber, topicID string) ([]CommentView, error) {
	records, err := s.store.ListCommentsByOrgAndTopic(ctx, orgNumber, topicID)
	if err != nil {
		return nil, err
	}
	return s.enrichAll(ctx, records), nil
}

// ListPaged returns one page of an org's comments plus pagination metadata.
func (s *Service) ListPaged(ctx context.Context, orgNumber string, rawPage, rawSize int, sortBy, sortOrder string) (PageResponse, error) {
	page, err := paging.Normalize(rawPage, rawSize, sortBy, sortOrder)
	if err != nil {
		return PageResponse{}, invalidArgument(err.Error())
	}

	records, err := s.store.FindCommentsPage(ctx, orgNumber, page.Offset(), page.Size, page.SortField, string(page.Direction))
	if err != nil {
		return PageResponse{}, err
	}
	count, err := s.store.CountCommentsByOrg(ctx, orgNumber)
	if err != nil {
		return PageResponse{}, err
	}

	return PageResponse{
		Items: s.enrichAll(ctx, records),
		Pagination: Pagination{
			TotalPages: paging.TotalPages(count, page.Size),
			Page:       page.Page,
			Size:       page.Size,
		},
	}, nil
}

// GetRecord returns the raw persisted comment. Callers use it for org/topic
// and ownership checks before exposing a view.
func (s *Service) GetRecord(ctx context.Context, commentID string) (store.Comment, error) {
	return s.store.GetComment(ctx, commentID)
}

// View enriches a single record for the response body.
func (s *Service) View(ctx context.Context, record store.Comment) CommentView {
	return s.enrich(ctx, record, record.UserID)
}

// Update replaces the comment body and stamps a fresh lastChangedDate.
// Everything else on the record is left untouched. The response's user block
// reflects the acting user (last-editor semantics), not the stored author.
func (s *Service) Update(ctx context.Context, commentID, newBody, actingUserID string) (CommentView, error) {
	record, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return CommentView{}, err
	}

	record.Body = newBody
	record.LastChangedDate = time.Now().UTC()
	if err := s.store.SaveComment(ctx, record); err != nil {
		return CommentView{}, err
	}
	s.indexComment(record)

	return s.enrich(ctx, record, actingUserID), nil
}

// Delete removes the comment unconditionally.
func (s *Service) Delete(ctx context.Context, record store.Comment) error {
	if err := s.store.DeleteComment(ctx, record.ID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteComment(record.ID)
	}
	return nil
}

// SearchComments runs a tenant-scoped full-text search. Without a search
// backend the result set is empty.
func (s *Service) SearchComments(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Total: 0, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) indexComment(record store.Comment) {
	if s.search == nil {
		return
	}
	s.search.IndexComment(search.CommentRecord{
		ID:        record.ID,
		OrgNumber: record.OrgNumber,
		TopicID:   record.TopicID,
		Comment:   record.Body,
	})
}

func (s *Service) enrich(ctx context.Context, record store.Comment, userID string) CommentView {
	view := CommentView{
		ID:              record.ID,
		TopicID:         record.TopicID,
		Comment:         record.Body,
		CreatedDate:     record.CreatedDate,
		LastChangedDate: record.LastChangedDate,
	}
	if userID == "" {
		return view
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		// A comment with a dangling user reference still renders, just
		// without author data.
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("lookup user %s failed: %v", userID, err)
		}
		return view
	}
	view.User = &UserView{ID: user.ID, Name: user.Name, Email: user.Email}
	return view
}

func (s *Service) enrichAll(ctx context.Context, records []store.Comment) []CommentView {
	// Per-call lookup cache; org listings tend to repeat a few authors.
	users := make(map[string]*UserView)
	views := make([]CommentView, 0, len(records))
	for _, record := range records {
		view := CommentView{
			ID:              record.ID,
			TopicID:         record.TopicID,
			Comment:         record.Body,
			CreatedDate:     record.CreatedDate,
			LastChangedDate: record.LastChangedDate,
		}
		if record.UserID != "" {
			cached, seen := users[record.UserID]
			if !seen {
				if user, err := s.store.GetUser(ctx, record.UserID); err == nil {
					cached = &UserView{ID: user.ID, Name: user.Name, Email: user.Email}
				} else if !errors.Is(err, sql.ErrNoRows) {
					log.Printf("lookup user %s failed: %v", record.UserID, err)
				}
				users[record.UserID] = cached
			}
			view.User = cached
		}
		views = append(views, view)
	}
	return views
}
