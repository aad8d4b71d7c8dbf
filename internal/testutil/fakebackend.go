// Package testutil provides an in-process fake of the hosted backend for
// service and session tests. It speaks just enough of the auth, table,
// stored-procedure, and storage wire surface to exercise the real client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type fakeUser struct {
	ID        string
	Email     string
	Password  string
	Username  string
	Confirmed bool
	Metadata  map[string]any
}

// FakeBackend is an httptest-backed stand-in for the real backend.
type FakeBackend struct {
	Server *httptest.Server

	// RequireEmailConfirmation makes sign-up return a pending user with no
	// session, mirroring a project with email confirmation enabled.
	RequireEmailConfirmation bool

	mu       sync.Mutex
	tables   map[string][]map[string]any
	uniques  map[string][][]string
	objects  map[string][]byte
	users    map[string]*fakeUser
	byEmail  map[string]string
	tokens   map[string]string // access token -> user id
	refresh  map[string]string // refresh token -> user id
	failures map[string]int    // "METHOD pathPrefix" -> remaining forced 500s
}

// NewFakeBackend starts a fake backend; it is torn down with the test.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	f := &FakeBackend{
		tables:   make(map[string][]map[string]any),
		uniques:  make(map[string][][]string),
		objects:  make(map[string][]byte),
		users:    make(map[string]*fakeUser),
		byEmail:  make(map[string]string),
		tokens:   make(map[string]string),
		refresh:  make(map[string]string),
		failures: make(map[string]int),
	}
	f.uniques["profiles"] = [][]string{{"id"}, {"username"}}
	f.uniques["favorites"] = [][]string{{"user_id", "project_id"}}
	f.uniques["coins"] = [][]string{{"user_id"}}

	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the fake backend's base URL.
func (f *FakeBackend) URL() string {
	return f.Server.URL
}

// RegisterUser seeds a user account and returns its id.
func (f *FakeBackend) RegisterUser(email, password, username string, confirmed bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.users[id] = &fakeUser{
		ID:        id,
		Email:     email,
		Password:  password,
		Username:  username,
		Confirmed: confirmed,
		Metadata:  map[string]any{"username": username},
	}
	f.byEmail[email] = id
	return id
}

// TokenFor mints and registers an access token for a seeded user. exp is
// encoded so expiry inspection on the client side behaves as in production.
func (f *FakeBackend) TokenFor(userID string, ttl time.Duration) string {
	token := f.mintJWT(userID, ttl)
	f.mu.Lock()
	f.tokens[token] = userID
	f.mu.Unlock()
	return token
}

// RefreshTokenFor registers a refresh token for a seeded user.
func (f *FakeBackend) RefreshTokenFor(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := "refresh-" + uuid.NewString()
	f.refresh[token] = userID
	return token
}

func (f *FakeBackend) mintJWT(userID string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		panic(err)
	}
	return token
}

// Insert seeds a row. Missing id and created_at fields are filled in.
func (f *FakeBackend) Insert(table string, row map[string]any) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make(map[string]any, len(row))
	for k, v := range row {
		stored[k] = v
	}
	if _, ok := stored["id"]; !ok && table != "coins" && table != "favorites" {
		stored["id"] = uuid.NewString()
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	f.tables[table] = append(f.tables[table], stored)
	return stored
}

// Rows returns a snapshot of a table's rows.
func (f *FakeBackend) Rows(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.tables[table]))
	for i, r := range f.tables[table] {
		c := make(map[string]any, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

// Object returns a stored blob and whether it exists.
func (f *FakeBackend) Object(bucket, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+path]
	return data, ok
}

// ObjectCount returns the number of stored blobs.
func (f *FakeBackend) ObjectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// FailNext forces the next n requests matching method and path prefix to
// fail with a 500.
func (f *FakeBackend) FailNext(method, pathPrefix string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+pathPrefix] = n
}

func (f *FakeBackend) shouldFail(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, n := range f.failures {
		if n <= 0 {
			continue
		}
		method, prefix, _ := strings.Cut(key, " ")
		if r.Method == method && strings.HasPrefix(r.URL.Path, prefix) {
			f.failures[key] = n - 1
			return true
		}
	}
	return false
}

func (f *FakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	if f.shouldFail(r) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "injected failure"})
		return
	}

	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/auth/v1/"):
		f.handleAuth(w, r)
	case strings.HasPrefix(path, "/rest/v1/rpc/"):
		f.handleRPC(w, r)
	case strings.HasPrefix(path, "/rest/v1/"):
		f.handleRest(w, r)
	case strings.HasPrefix(path, "/storage/v1/object/"):
		f.handleStorage(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no route"})
	}
}

// --- auth ---

func (f *FakeBackend) handleAuth(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/auth/v1/") {
	case "signup":
		f.handleSignUp(w, r)
	case "token":
		f.handleToken(w, r)
	case "user":
		f.handleUser(w, r)
	case "recover":
		w.WriteHeader(http.StatusOK)
	case "logout":
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"msg": "no route"})
	}
}

func (f *FakeBackend) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "bad body"})
		return
	}

	f.mu.Lock()
	if _, exists := f.byEmail[req.Email]; exists {
		f.mu.Unlock()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error_code": "user_already_exists",
			"msg":        "User already registered",
		})
		return
	}
	id := uuid.NewString()
	username, _ := req.Data["username"].(string)
	u := &fakeUser{
		ID:        id,
		Email:     req.Email,
		Password:  req.Password,
		Username:  username,
		Confirmed: !f.RequireEmailConfirmation,
		Metadata:  req.Data,
	}
	f.users[id] = u
	f.byEmail[req.Email] = id
	f.mu.Unlock()

	if f.RequireEmailConfirmation {
		writeJSON(w, http.StatusOK, f.userJSON(u))
		return
	}
	writeJSON(w, http.StatusOK, f.sessionJSON(u))
}

func (f *FakeBackend) handleToken(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("grant_type") {
	case "password":
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "bad body"})
			return
		}
		f.mu.Lock()
		id, ok := f.byEmail[req.Email]
		var u *fakeUser
		if ok {
			u = f.users[id]
		}
		f.mu.Unlock()
		if u == nil || u.Password != req.Password {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error_code": "invalid_credentials",
				"msg":        "Invalid login credentials",
			})
			return
		}
		if !u.Confirmed {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error_code": "email_not_confirmed",
				"msg":        "Email not confirmed",
			})
			return
		}
		writeJSON(w, http.StatusOK, f.sessionJSON(u))

	case "refresh_token":
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "bad body"})
			return
		}
		f.mu.Lock()
		id, ok := f.refresh[req.RefreshToken]
		var u *fakeUser
		if ok {
			delete(f.refresh, req.RefreshToken)
			u = f.users[id]
		}
		f.mu.Unlock()
		if u == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid_grant", "error_description": "Invalid Refresh Token",
			})
			return
		}
		writeJSON(w, http.StatusOK, f.sessionJSON(u))

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "unsupported grant"})
	}
}

func (f *FakeBackend) handleUser(w http.ResponseWriter, r *http.Request) {
	u := f.userFromBearer(r)
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid token"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, f.userJSON(u))
	case http.MethodPut:
		var req struct {
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "bad body"})
			return
		}
		f.mu.Lock()
		for k, v := range req.Data {
			u.Metadata[k] = v
		}
		if name, ok := req.Data["username"].(string); ok {
			u.Username = name
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.userJSON(u))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *FakeBackend) userFromBearer(r *http.Request) *fakeUser {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.tokens[token]; ok {
		return f.users[id]
	}
	return nil
}

func (f *FakeBackend) sessionJSON(u *fakeUser) map[string]any {
	access := f.mintJWT(u.ID, time.Hour)
	refresh := "refresh-" + uuid.NewString()
	f.mu.Lock()
	f.tokens[access] = u.ID
	f.refresh[refresh] = u.ID
	f.mu.Unlock()
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": refresh,
		"user":          f.userJSON(u),
	}
}

func (f *FakeBackend) userJSON(u *fakeUser) map[string]any {
	out := map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"user_metadata": u.Metadata,
		"created_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if u.Confirmed {
		out["email_confirmed_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	return out
}

// --- rpc ---

func (f *FakeBackend) handleRPC(w http.ResponseWriter, r *http.Request) {
	fn := strings.TrimPrefix(r.URL.Path, "/rest/v1/rpc/")
	u := f.userFromBearer(r)
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "no session"})
		return
	}

	var req struct {
		UserID      string `json:"user_id"`
		Amount      int    `json:"amount"`
		ProjectID   string `json:"project_id"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var row map[string]any
	for _, c := range f.tables["coins"] {
		if fmt.Sprintf("%v", c["user_id"]) == u.ID {
			row = c
			break
		}
	}
	if row == nil {
		row = map[string]any{"user_id": u.ID, "balance": 0, "created_at": time.Now().UTC().Format(time.RFC3339)}
		f.tables["coins"] = append(f.tables["coins"], row)
	}
	balance := asInt(row["balance"])

	switch fn {
	case "earn_coins":
		balance += req.Amount
	case "spend_coins":
		if balance < req.Amount {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"code":    "P0001",
				"message": "insufficient_balance",
			})
			return
		}
		balance -= req.Amount
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "unknown function"})
		return
	}

	row["balance"] = balance
	row["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	f.tables["coin_transactions"] = append(f.tables["coin_transactions"], map[string]any{
		"id":          uuid.NewString(),
		"user_id":     u.ID,
		"type":        strings.TrimSuffix(fn, "_coins"),
		"amount":      req.Amount,
		"project_id":  req.ProjectID,
		"description": req.Description,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, balance)
}

// --- rest ---

func (f *FakeBackend) handleRest(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	single := strings.Contains(r.Header.Get("Accept"), "vnd.pgrst.object")

	switch r.Method {
	case http.MethodGet:
		rows := f.matchRows(table, r)
		f.respondRows(w, rows, single)

	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var rows []map[string]any
		if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
			if err := json.Unmarshal(body, &rows); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
				return
			}
		} else {
			var row map[string]any
			if err := json.Unmarshal(body, &row); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
				return
			}
			rows = []map[string]any{row}
		}

		upsert := strings.Contains(r.Header.Get("Prefer"), "merge-duplicates")
		f.mu.Lock()
		inserted := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			if dup := f.findDuplicateLocked(table, row); dup != nil {
				if upsert {
					for k, v := range row {
						dup[k] = v
					}
					inserted = append(inserted, dup)
					continue
				}
				f.mu.Unlock()
				writeJSON(w, http.StatusConflict, map[string]string{
					"code":    "23505",
					"message": "duplicate key value violates unique constraint",
				})
				return
			}
			stored := make(map[string]any, len(row))
			for k, v := range row {
				stored[k] = v
			}
			if _, ok := stored["id"]; !ok && table != "coins" && table != "favorites" {
				stored["id"] = uuid.NewString()
			}
			if _, ok := stored["created_at"]; !ok {
				stored["created_at"] = time.Now().UTC().Format(time.RFC3339)
			}
			f.tables[table] = append(f.tables[table], stored)
			inserted = append(inserted, stored)
		}
		f.mu.Unlock()
		f.respondRows(w, inserted, single)

	case http.MethodPatch:
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
			return
		}
		f.mu.Lock()
		// Unique constraints hold for updates too.
		for _, row := range f.tables[table] {
			if !matchFilters(row, r.URL.Query()) {
				continue
			}
			if dup := f.findPatchConflictLocked(table, row, patch); dup != nil {
				f.mu.Unlock()
				writeJSON(w, http.StatusConflict, map[string]string{
					"code":    "23505",
					"message": "duplicate key value violates unique constraint",
				})
				return
			}
		}
		var updated []map[string]any
		for _, row := range f.tables[table] {
			if matchFilters(row, r.URL.Query()) {
				for k, v := range patch {
					row[k] = v
				}
				row["updated_at"] = time.Now().UTC().Format(time.RFC3339)
				updated = append(updated, row)
			}
		}
		f.mu.Unlock()
		// PATCH with an empty match set succeeds with no rows.
		if single && len(updated) == 0 {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		f.respondRows(w, updated, single)

	case http.MethodDelete:
		f.mu.Lock()
		kept := f.tables[table][:0]
		for _, row := range f.tables[table] {
			if !matchFilters(row, r.URL.Query()) {
				kept = append(kept, row)
			}
		}
		f.tables[table] = kept
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *FakeBackend) findPatchConflictLocked(table string, row map[string]any, patch map[string]any) map[string]any {
	for _, cols := range f.uniques[table] {
		touched := false
		for _, col := range cols {
			if _, ok := patch[col]; ok {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		merged := make(map[string]any, len(row))
		for k, v := range row {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		for _, existing := range f.tables[table] {
			if sameRow(existing, row) {
				continue
			}
			match := true
			for _, col := range cols {
				if fmt.Sprintf("%v", existing[col]) != fmt.Sprintf("%v", merged[col]) {
					match = false
					break
				}
			}
			if match {
				return existing
			}
		}
	}
	return nil
}

func sameRow(a, b map[string]any) bool {
	if id, ok := a["id"]; ok {
		return fmt.Sprintf("%v", id) == fmt.Sprintf("%v", b["id"])
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func (f *FakeBackend) findDuplicateLocked(table string, row map[string]any) map[string]any {
	for _, cols := range f.uniques[table] {
		for _, existing := range f.tables[table] {
			match := true
			for _, col := range cols {
				v, ok := row[col]
				if !ok || fmt.Sprintf("%v", existing[col]) != fmt.Sprintf("%v", v) {
					match = false
					break
				}
			}
			if match {
				return existing
			}
		}
	}
	return nil
}

func (f *FakeBackend) matchRows(table string, r *http.Request) []map[string]any {
	query := r.URL.Query()

	f.mu.Lock()
	var rows []map[string]any
	for _, row := range f.tables[table] {
		if matchFilters(row, query) {
			c := make(map[string]any, len(row))
			for k, v := range row {
				c[k] = v
			}
			rows = append(rows, c)
		}
	}
	f.mu.Unlock()

	if order := query.Get("order"); order != "" {
		parts := strings.SplitN(strings.Split(order, ",")[0], ".", 2)
		col := parts[0]
		desc := len(parts) > 1 && parts[1] == "desc"
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := fmt.Sprintf("%v", rows[i][col]), fmt.Sprintf("%v", rows[j][col])
			if desc {
				return a > b
			}
			return a < b
		})
	}
	if off := query.Get("offset"); off != "" {
		n, _ := strconv.Atoi(off)
		if n < len(rows) {
			rows = rows[n:]
		} else {
			rows = nil
		}
	}
	if lim := query.Get("limit"); lim != "" {
		n, _ := strconv.Atoi(lim)
		if n < len(rows) {
			rows = rows[:n]
		}
	}
	return rows
}

func matchFilters(row map[string]any, query map[string][]string) bool {
	for col, values := range query {
		switch col {
		case "select", "order", "limit", "offset":
			continue
		}
		for _, v := range values {
			op, arg, ok := strings.Cut(v, ".")
			if !ok {
				continue
			}
			cell := row[col]
			switch op {
			case "eq":
				if fmt.Sprintf("%v", cell) != arg {
					return false
				}
			case "neq":
				if fmt.Sprintf("%v", cell) == arg {
					return false
				}
			case "in":
				arg = strings.Trim(arg, "()")
				found := false
				for _, candidate := range strings.Split(arg, ",") {
					if fmt.Sprintf("%v", cell) == candidate {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			case "is":
				if arg == "null" && cell != nil {
					return false
				}
				if arg != "null" && fmt.Sprintf("%v", cell) != arg {
					return false
				}
			}
		}
	}
	return true
}

func (f *FakeBackend) respondRows(w http.ResponseWriter, rows []map[string]any, single bool) {
	if single {
		if len(rows) != 1 {
			writeJSON(w, http.StatusNotAcceptable, map[string]string{
				"code":    "PGRST116",
				"message": fmt.Sprintf("JSON object requested, multiple (or no) rows returned: %d rows", len(rows)),
			})
			return
		}
		writeJSON(w, http.StatusOK, rows[0])
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// --- storage ---

func (f *FakeBackend) handleStorage(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")

	switch r.Method {
	case http.MethodPost:
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		if _, exists := f.objects[rest]; exists {
			f.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]string{"message": "The resource already exists"})
			return
		}
		f.objects[rest] = data
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"Key": rest})

	case http.MethodGet:
		f.mu.Lock()
		data, ok := f.objects[rest]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Object not found"})
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(data)

	case http.MethodDelete:
		bucket := rest
		var req struct {
			Prefixes []string `json:"prefixes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
			return
		}
		f.mu.Lock()
		for _, p := range req.Prefixes {
			delete(f.objects, bucket+"/"+p)
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, []map[string]string{})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}
