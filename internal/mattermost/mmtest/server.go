// Package mmtest is an in-memory Mattermost API for tests. It implements the
// subset of REST v4 endpoints the bot calls and records every write.
package mmtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"leave-bot/internal/mattermost"
)

const BotUserID = "bot-user"

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	seq      int
	users    map[string]*mattermost.User
	posts    map[string]*mattermost.Post
	order    []string
	dialogs  []mattermost.DialogRequest
	ephemera map[string][]mattermost.Post
	groups   map[string]*mattermost.Group
	members  map[string]map[string]bool
	files    map[string]File
	failures map[string]int
}

// File is an uploaded attachment.
type File struct {
	ChannelID string
	Name      string
	Data      []byte
}

func NewServer() *Server {
	s := &Server{
		users:    map[string]*mattermost.User{BotUserID: {ID: BotUserID, Username: "leave-bot", Roles: "system_user"}},
		posts:    map[string]*mattermost.Post{},
		groups:   map[string]*mattermost.Group{},
		members:  map[string]map[string]bool{},
		files:    map[string]File{},
		ephemera: map[string][]mattermost.Post{},
		failures: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v4/users/me", s.handleMe)
	mux.HandleFunc("GET /api/v4/users/username/{username}", s.handleUserByName)
	mux.HandleFunc("GET /api/v4/users/{id}", s.handleUser)
	mux.HandleFunc("GET /api/v4/channels/{id}", s.handleChannel)
	mux.HandleFunc("POST /api/v4/channels/direct", s.handleDirect)
	mux.HandleFunc("POST /api/v4/posts", s.handleCreatePost)
	mux.HandleFunc("POST /api/v4/posts/ephemeral", s.handleEphemeral)
	mux.HandleFunc("PUT /api/v4/posts/{id}", s.handleUpdatePost)
	mux.HandleFunc("POST /api/v4/actions/dialogs/open", s.handleDialog)
	mux.HandleFunc("POST /api/v4/files", s.handleUpload)
	mux.HandleFunc("GET /api/v4/groups", s.handleSearchGroups)
	mux.HandleFunc("POST /api/v4/groups", s.handleCreateGroup)
	mux.HandleFunc("POST /api/v4/groups/{id}/members", s.handleAddMembers)
	mux.HandleFunc("DELETE /api/v4/groups/{id}/members", s.handleRemoveMembers)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, fail := s.failures[r.Method+" "+r.URL.Path]
		s.mu.Unlock()
		if fail {
			http.Error(w, `{"message":"injected failure"}`, status)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return s
}

// Client returns a client pointed at the server.
func (s *Server) Client() *mattermost.Client {
	return mattermost.NewClient(s.URL, "test-token")
}

// AddUser registers a user; roles is space separated.
func (s *Server) AddUser(id, username, roles string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &mattermost.User{ID: id, Username: username, Roles: roles}
}

// Fail makes every request matching method and path answer with status.
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = status
}

// DMChannel is the id the server assigns to the bot's DM with userID.
func DMChannel(userID string) string {
	return "dm_" + userID
}

// Posts returns the current state of every post in channelID, oldest first.
func (s *Server) Posts(channelID string) []mattermost.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mattermost.Post
	for _, id := range s.order {
		if p := s.posts[id]; p.ChannelID == channelID {
			out = append(out, *p)
		}
	}
	return out
}

// Post returns the current state of postID.
func (s *Server) Post(postID string) (mattermost.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return mattermost.Post{}, false
	}
	return *p, true
}

// DMs returns the messages the bot sent to userID.
func (s *Server) DMs(userID string) []mattermost.Post {
	return s.Posts(DMChannel(userID))
}

// Ephemerals returns the ephemeral messages shown to userID.
func (s *Server) Ephemerals(userID string) []mattermost.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mattermost.Post(nil), s.ephemera[userID]...)
}

func (s *Server) Dialogs() []mattermost.DialogRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mattermost.DialogRequest(nil), s.dialogs...)
}

// GroupByName returns the custom group called name.
func (s *Server) GroupByName(name string) (*mattermost.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Name == name {
			cp := *g
			return &cp, true
		}
	}
	return nil, false
}

// AddGroup registers an existing group, e.g. a preconfigured one.
func (s *Server) AddGroup(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[id] = &mattermost.Group{ID: id, Name: name, DisplayName: name, Source: "custom"}
	s.members[id] = map[string]bool{}
}

// IsMember reports whether userID is in groupID.
func (s *Server) IsMember(groupID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[groupID][userID]
}

func (s *Server) File(fileID string) (File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	return f, ok
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	u := *s.users[BotUserID]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u, ok := s.users[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"message":"user not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUserByName(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("username")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == name {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	http.Error(w, `{"message":"user not found"}`, http.StatusNotFound)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, mattermost.ChannelInfo{ID: id, Name: id, TeamID: "team-1"})
}

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil || len(ids) != 2 {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}
	other := ids[0]
	if other == BotUserID {
		other = ids[1]
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": DMChannel(other)})
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var p mattermost.Post
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	p.ID = s.nextID("post")
	s.posts[p.ID] = &p
	s.order = append(s.order, p.ID)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleEphemeral(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string          `json:"user_id"`
		Post   mattermost.Post `json:"post"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	body.Post.ID = s.nextID("ephemeral")
	s.ephemera[body.UserID] = append(s.ephemera[body.UserID], body.Post)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, body.Post)
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	var p mattermost.Post
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		http.Error(w, `{"message":"post not found"}`, http.StatusNotFound)
		return
	}
	p.ID = id
	s.posts[id] = &p
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDialog(w http.ResponseWriter, r *http.Request) {
	var d mattermost.DialogRequest
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.dialogs = append(s.dialogs, d)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, `{"message":"bad multipart"}`, http.StatusBadRequest)
		return
	}
	f, hdr, err := r.FormFile("files")
	if err != nil {
		http.Error(w, `{"message":"missing file"}`, http.StatusBadRequest)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, `{"message":"read file"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	id := s.nextID("file")
	s.files[id] = File{ChannelID: r.FormValue("channel_id"), Name: hdr.Filename, Data: data}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"file_infos": []map[string]string{{"id": id, "name": hdr.Filename}},
	})
}

func (s *Server) handleSearchGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []mattermost.Group{}
	for _, g := range s.groups {
		if strings.Contains(g.Name, q) || strings.Contains(g.DisplayName, q) {
			out = append(out, *g)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var g mattermost.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.groups {
		if existing.Name == g.Name {
			http.Error(w, `{"message":"group name taken"}`, http.StatusBadRequest)
			return
		}
	}
	g.ID = s.nextID("group")
	s.groups[g.ID] = &g
	s.members[g.ID] = map[string]bool{}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleAddMembers(w http.ResponseWriter, r *http.Request) {
	s.changeMembers(w, r, true)
}

func (s *Server) handleRemoveMembers(w http.ResponseWriter, r *http.Request) {
	s.changeMembers(w, r, false)
}

func (s *Server) changeMembers(w http.ResponseWriter, r *http.Request, add bool) {
	var body struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		http.Error(w, `{"message":"group not found"}`, http.StatusNotFound)
		return
	}
	for _, u := range body.UserIDs {
		if add {
			m[u] = true
		} else {
			delete(m, u)
		}
	}
	writeJSON(w, http.StatusOK, []any{})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
