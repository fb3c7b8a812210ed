package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"commentary/api/internal/auth"
	"commentary/api/internal/config"
	"commentary/api/internal/store"
)

const testOrg = "246813579"

// memStore backs HTTP tests with real pagination and sorting over maps.
type memStore struct {
	mu       sync.Mutex
	comments map[string]store.Comment
	users    map[string]store.User
}

func newMemStore() *memStore {
	return &memStore{
		comments: map[string]store.Comment{},
		users:    map[string]store.User{},
	}
}

func (m *memStore) InsertComment(_ context.Context, item store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[item.ID] = item
	return nil
}

func (m *memStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.comments[commentID]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) SaveComment(_ context.Context, item store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[item.ID]; !ok {
		return sql.ErrNoRows
	}
	m.comments[item.ID] = item
	return nil
}

func (m *memStore) DeleteComment(_ context.Context, commentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.comments, commentID)
	return nil
}

func (m *memStore) ListCommentsByOrg(_ context.Context, orgNumber string) ([]store.Comment, error) {
	return m.filter(func(item store.Comment) bool {
		return item.OrgNumber == orgNumber
	}), nil
}

func (m *memStore) ListCommentsByOrgAndTopic(_ context.Context, orgNumber, topicID string) ([]store.Comment, error) {
	return m.filter(func(item store.Comment) bool {
		return item.OrgNumber == orgNumber && item.TopicID == topicID
	}), nil
}

func (m *memStore) FindCommentsPage(_ context.Context, orgNumber string, offset, limit int, sortField, direction string) ([]store.Comment, error) {
	matched := m.filter(func(item store.Comment) bool {
		return item.OrgNumber == orgNumber
	})
	sort.Slice(matched, func(i, j int) bool {
		cmp := compareComments(matched[i], matched[j], sortField)
		if direction == "ASC" {
			return cmp < 0
		}
		return cmp > 0
	})
	if offset >= len(matched) {
		return []store.Comment{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (m *memStore) CountCommentsByOrg(_ context.Context, orgNumber string) (int64, error) {
	return int64(len(m.filter(func(item store.Comment) bool {
		return item.OrgNumber == orgNumber
	}))), nil
}

func (m *memStore) UserExists(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[userID]
	return ok, nil
}

func (m *memStore) InsertUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return nil
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUser(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) filter(keep func(store.Comment) bool) []store.Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]store.Comment, 0, len(m.comments))
	for _, item := range m.comments {
		if keep(item) {
			matched = append(matched, item)
		}
	}
	return matched
}

func compareComments(a, b store.Comment, sortField string) int {
	var cmp int
	switch sortField {
	case "last_changed_date":
		cmp = a.LastChangedDate.Compare(b.LastChangedDate)
	case "topic_id":
		cmp = strings.Compare(a.TopicID, b.TopicID)
	case "comment":
		cmp = strings.Compare(a.Body, b.Body)
	default:
		cmp = a.CreatedDate.Compare(b.CreatedDate)
	}
	if cmp == 0 {
		cmp = strings.Compare(a.ID, b.ID)
	}
	return cmp
}

func newTestHandler(st dataStore) http.Handler {
	service := &Service{
		cfg:   config.Config{JWTSecret: "test-secret"},
		store: st,
	}
	return NewHTTPServer(service, "*").Handler()
}

func testToken(t *testing.T, authorities, userName, name, email string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Authorities: authorities,
		UserName:    userName,
		Name:        name,
		Email:       email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	request := httptest.NewRequest(method, target, reader)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeView(t *testing.T, raw []byte, target *CommentView) {
	t.Helper()
	if err := json.Unmarshal(raw, target); err != nil {
		t.Fatalf("decode comment view: %v (body %s)", err, raw)
	}
}

func decodePage(t *testing.T, recorder *httptest.ResponseRecorder) PageResponse {
	t.Helper()
	var payload PageResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode page response: %v (body %s)", err, recorder.Body.String())
	}
	return payload
}

// seedComments inserts six comments for testOrg with bodies whose
// lexicographic order differs from their chronological order.
func seedComments(t *testing.T, m *memStore) {
	t.Helper()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	bodies := []string{"delta", "alpha", "echo", "bravo", "foxtrot", "charlie"}
	ctx := context.Background()
	if err := m.InsertUser(ctx, store.User{ID: "seed-user", Name: "Seed User", Email: "seed@example.com"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	for i, body := range bodies {
		comment := store.Comment{
			ID:              fmt.Sprintf("c-%d", i+1),
			OrgNumber:       testOrg,
			TopicID:         "topic-1",
			UserID:          "seed-user",
			Body:            body,
			CreatedDate:     base.Add(time.Duration(i) * time.Minute),
			LastChangedDate: base.Add(time.Duration(i) * time.Minute),
		}
		if err := m.InsertComment(ctx, comment); err != nil {
			t.Fatalf("seed comment %s: %v", comment.ID, err)
		}
	}
}

func TestPaginatedOrgListing(t *testing.T) {
	mem := newMemStore()
	seedComments(t, mem)
	handler := newTestHandler(mem)
	token := testToken(t, "organization:"+testOrg+":read", "reader-1", "", "")

	first := doRequest(t, handler, http.MethodGet, "/"+testOrg+"/comments?page=1&size=2", token, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("page 1 status = %d, body %s", first.Code, first.Body.String())
	}
	firstPage := decodePage(t, first)
	if len(firstPage.Items) != 2 {
		t.Fatalf("page 1 items = %d, want 2", len(firstPage.Items))
	}
	if firstPage.Pagination.TotalPages != 3 || firstPage.Pagination.Page != 1 || firstPage.Pagination.Size != 2 {
		t.Fatalf("unexpected pagination: %+v", firstPage.Pagination)
	}

	second := doRequest(t, handler, http.MethodGet, "/"+testOrg+"/comments?page=2&size=2", token, nil)
	secondPage := decodePage(t, second)
	if len(secondPage.Items) != 2 {
		t.Fatalf("page 2 items = %d, want 2", len(secondPage.Items))
	}
	seen := map[string]bool{}
	for _, item := range firstPage.Items {
		seen[item.ID] = true
	}
	for _, item := range secondPage.Items {
		if seen[item.ID] {
			t.Fatalf("comment %s appears on both pages", item.ID)
		}
	}

	// Adjacent pages concatenate into exactly the double-size page, in order.
	var concatenated []string
	for _, size := range []string{"page=1&size=3", "page=2&size=3"} {
		recorder := doRequest(t, handler, http.MethodGet, "/"+testOrg+"/comments?"+size, token, nil)
		page := decodePage(t, recorder)
		for _, item := range page.Items {
			concatenated = append(concatenated, item.ID)
		}
	}
	whole := decodePage(t, doRequest(t, handler, http.MethodGet, "/"+testOrg+"/comments?page=1&size=6", token, nil))
	if len(whole.Items) != len(concatenated) {
		t.Fatalf("concatenated pages have %d items, single page has %d", len(concatenated), len(whole.Items))
	}
	for i, item := range whole.Items {
		if concatenated[i] != item.ID {
			t.Fatalf("position %d: concatenated id %s, single-page id %s", i, concatenated[i], item.ID)
		}
	}

	tiny := doRequest(t, handler, http.MethodGet, "/"+testOrg+"/comments?page=1&size=1", token, nil)
	tinyPage := decodePage(t, tiny)
	if tinyPage.Pagination.TotalPages != 6 {
		t.Fatalf("size 1 totalPages = %d, want 6", tinyPage.Pagination.TotalPages)
	}

	// Default sort is newest first.
	if firstPage.Items[0].Comment != "charlie" || firstPage.Items[1].Comment != "foxtrot" {
		t.Fatalf("unexpected default order: %s, %s", firstPage.Items[0].Comment, firstPage.Items[1].Comment)
	}
}

func TestPaginatedOrgListingSortsByComment(t *testing.T) {
	mem := newMemStore()
	seedComments(t, mem)
	handler := newTestHandler(mem)
	token := testToken(t, "organization:"+testOrg+":read", "reader-1", "", "")

	recorder := doRequest(t, handler, http.MethodGet, "/"+testOrg+"/comments?size=6&sort_by=comment&sort_order=asc", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	page := decodePage(t, recorder)
	got := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		got = append(got, item.Comment)
	}
	want := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"}
	if len(got) != len(want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items = %v, want %v", got, want)
		}
	}
}

func TestPaginatedOrgListingRejectsBadParams(t *testing.T) {
	mem := newMemStore()
	seedComments(t, mem)
	handler := newTestHandler(mem)
	token := testToken(t, "organization:"+testOrg+":read", "reader-1", "", "")

	for name, target := range map[string]string{
		"page above ceiling": "/" + testOrg + "/comments?page=10001",
		"size above ceiling": "/" + testOrg + "/comments?size=101",
		"non-integer page":   "/" + testOrg + "/comments?page=first",
	} {
		t.Run(name, func(t *testing.T) {
			recorder := doRequest(t, handler, http.MethodGet, target, token, nil)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body %s", recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestTopicListingReturnsBareArray(t *testing.T) {
	mem := newMemStore()
	seedComments(t, mem)
	handler := newTestHandler(mem)
	token := testToken(t, "organization:"+testOrg+":read", "reader-1", "", "")

	recorder := doRequest(t, handler, http.MethodGet, "/"+testOrg+"/topic-1/comments", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var items []CommentView
	if err := json.Unmarshal(recorder.Body.Bytes(), &items); err != nil {
		t.Fatalf("expected a JSON array, got %s", recorder.Body.String())
	}
	if len(items) != 6 {
		t.Fatalf("items = %d, want 6", len(items))
	}
	for _, item := range items {
		if item.User == nil || item.User.Name != "Seed User" {
			t.Fatalf("expected enriched author on %s", item.ID)
		}
	}
}

func TestCreateComment(t *testing.T) {
	mem := newMemStore()
	handler := newTestHandler(mem)
	token := testToken(t, "organization:"+testOrg+":write", "writer-1", "Willa Writer", "willa@example.com")

	recorder := doRequest(t, handler, http.MethodPost, "/"+testOrg+"/topic-9/comments", token, map[string]string{
		"comment": "looks good to me",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var created CommentView
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Comment != "looks good to me" || created.TopicID != "topic-9" {
		t.Fatalf("unexpected response: %+v", created)
	}
	if created.User == nil || created.User.ID != "writer-1" || created.User.Name != "Willa Writer" {
		t.Fatalf("expected lazily created author, got %+v", created.User)
	}

	exists, err := mem.UserExists(context.Background(), "writer-1")
	if err != nil || !exists {
		t.Fatalf("expected user record for writer-1, exists=%v err=%v", exists, err)
	}
}

func TestCreateCommentRejectsMalformedJSON(t *testing.T) {
	handler := newTestHandler(newMemStore())
	token := testToken(t, "organization:"+testOrg+":write", "writer-1", "", "")

	request := httptest.NewRequest(http.MethodPost, "/"+testOrg+"/topic-1/comments", strings.NewReader(`{"comment": `))
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if payload.Code != "INVALID_BODY" {
		t.Fatalf("code = %q, want INVALID_BODY", payload.Code)
	}
}

func TestCreateCommentRejectsBlankBody(t *testing.T) {
	handler := newTestHandler(newMemStore())
	token := testToken(t, "organization:"+testOrg+":write", "writer-1", "", "")

	recorder := doRequest(t, handler, http.MethodPost, "/"+testOrg+"/topic-1/comments", token, map[string]string{
		"comment": "   ",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", recorder.Code, recorder.Body.String())
	}
}

type stubLimiter struct {
	allowed bool
}

func (l *stubLimiter) Allow(context.Context, string) (bool, error) {
	return l.allowed, nil
}

func TestCreateCommentRateLimited(t *testing.T) {
	service := &Service{
		cfg:   config.Config{JWTSecret: "test-secret"},
		store: newMemStore(),
	}
	service.WithLimiter(&stubLimiter{allowed: false})
	handler := NewHTTPServer(service, "*").Handler()
	token := testToken(t, "organization:"+testOrg+":write", "writer-1", "", "")

	recorder := doRequest(t, handler, http.MethodPost, "/"+testOrg+"/topic-1/comments", token, map[string]string{
		"comment": "too chatty",
	})
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429, body %s", recorder.Code, recorder.Body.String())
	}
}

func TestCommentLifecycle(t *testing.T) {
	mem := newMemStore()
	handler := newTestHandler(mem)
	token := testToken(t, "organization:"+testOrg+":write", "writer-1", "Willa Writer", "willa@example.com")

	created := doRequest(t, handler, http.MethodPost, "/"+testOrg+"/topic-1/comments", token, map[string]string{
		"comment": "v1",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", created.Code, created.Body.String())
	}
	var view CommentView
	if err := json.Unmarshal(created.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	path := "/" + testOrg + "/topic-1/comments/" + view.ID

	fetched := doRequest(t, handler, http.MethodGet, path, token, nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("get status = %d", fetched.Code)
	}

	updated := doRequest(t, handler, http.MethodPut, path, token, map[string]string{"comment": "v2"})
	if updated.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", updated.Code, updated.Body.String())
	}
	var revised CommentView
	if err := json.Unmarshal(updated.Body.Bytes(), &revised); err != nil {
		t.Fatalf("decode update response: %v", err)
	}
	if revised.Comment != "v2" {
		t.Fatalf("comment = %q, want %q", revised.Comment, "v2")
	}
	if !revised.CreatedDate.Equal(view.CreatedDate) {
		t.Fatalf("createdDate changed on update: %v vs %v", revised.CreatedDate, view.CreatedDate)
	}

	deleted := doRequest(t, handler, http.MethodDelete, path, token, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", deleted.Code)
	}

	gone := doRequest(t, handler, http.MethodGet, path, token, nil)
	if gone.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", gone.Code)
	}
}

func TestSingleCommentTopicMismatchIsNotFound(t *testing.T) {
	mem := newMemStore()
	seedComments(t, mem)
	handler := newTestHandler(mem)
	token := testToken(t, "organization:"+testOrg+":read", "reader-1", "", "")

	recorder := doRequest(t, handler, http.MethodGet, "/"+testOrg+"/other-topic/comments/c-1", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body %s", recorder.Code, recorder.Body.String())
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	handler := newTestHandler(newMemStore())
	token := testToken(t, "organization:"+testOrg+":read", "reader-1", "", "")

	recorder := doRequest(t, handler, http.MethodGet, "/"+testOrg+"/topic-1/comments/c-1/extra", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}
