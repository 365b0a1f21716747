package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type Client struct {
	baseURL    string
	botToken   string
	httpClient *http.Client

	mu        sync.Mutex
	botUserID string
}

func NewClient(baseURL, botToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		botToken:   botToken,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Post represents a Mattermost post.
type Post struct {
	ID        string   `json:"id,omitempty"`
	ChannelID string   `json:"channel_id"`
	Message   string   `json:"message"`
	Props     Props    `json:"props,omitempty"`
	FileIDs   []string `json:"file_ids,omitempty"`
}

// Props holds post properties including attachments.
type Props struct {
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a Mattermost message attachment.
type Attachment struct {
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text,omitempty"`
	Color   string   `json:"color,omitempty"`
	Footer  string   `json:"footer,omitempty"`
	Actions []Action `json:"actions,omitempty"`
	Fields  []Field  `json:"fields,omitempty"`
}

// Action represents an interactive button.
type Action struct {
	ID          string      `json:"id,omitempty"`
	Name        string      `json:"name"`
	Type        string      `json:"type,omitempty"` // "button" or "select"
	Style       string      `json:"style,omitempty"`
	Integration Integration `json:"integration"`
}

// Integration defines what happens when the action is triggered.
type Integration struct {
	URL     string         `json:"url"`
	Context map[string]any `json:"context,omitempty"`
}

// Field represents a key-value field in an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// DialogRequest is used to open an interactive dialog.
type DialogRequest struct {
	TriggerID string `json:"trigger_id"`
	URL       string `json:"url"`
	Dialog    Dialog `json:"dialog"`
}

// Dialog defines the dialog structure.
type Dialog struct {
	Title       string          `json:"title"`
	CallbackID  string          `json:"callback_id,omitempty"`
	Elements    []DialogElement `json:"elements"`
	SubmitLabel string          `json:"submit_label,omitempty"`
	State       string          `json:"state,omitempty"`
}

// DialogElement represents a form field in a dialog.
type DialogElement struct {
	DisplayName string         `json:"display_name"`
	Name        string         `json:"name"`
	Type        string         `json:"type"` // "text", "textarea", "select"
	SubType     string         `json:"subtype,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	HelpText    string         `json:"help_text,omitempty"`
	Optional    bool           `json:"optional"`
	MaxLength   int            `json:"max_length,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
}

// SelectOption represents an option in a select element.
type SelectOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// User holds the fields of a Mattermost user the bot reads.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Roles     string `json:"roles"` // space separated, e.g. "system_user system_admin"
}

// RoleList splits Roles into its individual role names.
func (u *User) RoleList() []string {
	return strings.Fields(u.Roles)
}

// HasRole reports whether the user carries role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.RoleList() {
		if r == role {
			return true
		}
	}
	return false
}

// Group is a Mattermost user group.
type Group struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	DisplayName    string `json:"display_name"`
	Source         string `json:"source"`
	AllowReference bool   `json:"allow_reference"`
}

// ChannelInfo holds basic channel information.
type ChannelInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TeamID string `json:"team_id"`
}

// CreatePost creates a new post in a channel.
func (c *Client) CreatePost(ctx context.Context, post *Post) (*Post, error) {
	var result Post
	if err := c.doJSON(ctx, http.MethodPost, "/api/v4/posts", post, &result); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &result, nil
}

// UpdatePost updates an existing post.
func (c *Client) UpdatePost(ctx context.Context, postID string, post *Post) (*Post, error) {
	post.ID = postID
	var result Post
	if err := c.doJSON(ctx, http.MethodPut, "/api/v4/posts/"+postID, post, &result); err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	return &result, nil
}

// SendEphemeral shows message to userID only, in channelID.
func (c *Client) SendEphemeral(ctx context.Context, userID, channelID, message string) error {
	body := struct {
		UserID string `json:"user_id"`
		Post   Post   `json:"post"`
	}{UserID: userID, Post: Post{ChannelID: channelID, Message: message}}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v4/posts/ephemeral", body, nil); err != nil {
		return fmt.Errorf("send ephemeral: %w", err)
	}
	return nil
}

// Permalink returns a link that opens postID in the web app.
func (c *Client) Permalink(postID string) string {
	return c.baseURL + "/_redirect/pl/" + postID
}

// BotUserID returns the id of the user behind the bot token. It is fetched once.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.botUserID != "" {
		return c.botUserID, nil
	}
	var me User
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/users/me", nil, &me); err != nil {
		return "", fmt.Errorf("get bot user: %w", err)
	}
	c.botUserID = me.ID
	return me.ID, nil
}

// DirectChannel returns the DM channel between the bot and userID, creating it if needed.
func (c *Client) DirectChannel(ctx context.Context, userID string) (string, error) {
	botID, err := c.BotUserID(ctx)
	if err != nil {
		return "", err
	}
	var channel struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v4/channels/direct", []string{botID, userID}, &channel); err != nil {
		return "", fmt.Errorf("create dm channel: %w", err)
	}
	return channel.ID, nil
}

// SendDM sends a direct message to a user.
func (c *Client) SendDM(ctx context.Context, userID, message string) error {
	channelID, err := c.DirectChannel(ctx, userID)
	if err != nil {
		return err
	}
	_, err = c.CreatePost(ctx, &Post{
		ChannelID: channelID,
		Message:   message,
	})
	return err
}

// SendFileDM uploads data as filename and posts it to userID's DM channel.
func (c *Client) SendFileDM(ctx context.Context, userID, message, filename string, data []byte) error {
	channelID, err := c.DirectChannel(ctx, userID)
	if err != nil {
		return err
	}
	fileID, err := c.UploadFile(ctx, channelID, filename, data)
	if err != nil {
		return err
	}
	_, err = c.CreatePost(ctx, &Post{
		ChannelID: channelID,
		Message:   message,
		FileIDs:   []string{fileID},
	})
	return err
}

// UploadFile stores data in channelID and returns the file id to attach to a post.
func (c *Client) UploadFile(ctx context.Context, channelID, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("channel_id", channelID); err != nil {
		return "", fmt.Errorf("write channel_id: %w", err)
	}
	part, err := w.CreateFormFile("files", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	var result struct {
		FileInfos []struct {
			ID string `json:"id"`
		} `json:"file_infos"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v4/files", &buf, w.FormDataContentType(), &result); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if len(result.FileInfos) == 0 {
		return "", fmt.Errorf("upload file: empty response")
	}
	return result.FileInfos[0].ID, nil
}

// OpenDialog opens an interactive dialog for the user.
func (c *Client) OpenDialog(ctx context.Context, req *DialogRequest) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/v4/actions/dialogs/open", req, nil); err != nil {
		return fmt.Errorf("open dialog: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/users/"+userID, nil, &u); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByUsername retrieves a user by username, with or without the leading @.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimPrefix(username, "@")
	var u User
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/users/username/"+url.PathEscape(username), nil, &u); err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &u, nil
}

// GetChannel retrieves channel info by ID.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*ChannelInfo, error) {
	var info ChannelInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/channels/"+channelID, nil, &info); err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &info, nil
}

// FindGroupByName returns the custom group with exactly name, or nil.
func (c *Client) FindGroupByName(ctx context.Context, name string) (*Group, error) {
	q := url.Values{}
	q.Set("q", name)
	q.Set("per_page", "100")
	var groups []Group
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/groups?"+q.Encode(), nil, &groups); err != nil {
		return nil, fmt.Errorf("search groups: %w", err)
	}
	for i := range groups {
		if groups[i].Name == name {
			return &groups[i], nil
		}
	}
	return nil, nil
}

// CreateGroup creates an empty custom group.
func (c *Client) CreateGroup(ctx context.Context, name, displayName string) (*Group, error) {
	payload := struct {
		Group
		UserIDs []string `json:"user_ids"`
	}{
		Group: Group{
			Name:           name,
			DisplayName:    displayName,
			Source:         "custom",
			AllowReference: true,
		},
		UserIDs: []string{},
	}
	var g Group
	if err := c.doJSON(ctx, http.MethodPost, "/api/v4/groups", payload, &g); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return &g, nil
}

// EnsureGroup returns the id of the custom group called name, creating it first if needed.
func (c *Client) EnsureGroup(ctx context.Context, name, displayName string) (string, error) {
	g, err := c.FindGroupByName(ctx, name)
	if err != nil {
		return "", err
	}
	if g != nil {
		return g.ID, nil
	}
	g, err = c.CreateGroup(ctx, name, displayName)
	if err != nil {
		return "", err
	}
	return g.ID, nil
}

// AddGroupMembers adds users to a custom group.
func (c *Client) AddGroupMembers(ctx context.Context, groupID string, userIDs ...string) error {
	body := map[string][]string{"user_ids": userIDs}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v4/groups/"+groupID+"/members", body, nil); err != nil {
		return fmt.Errorf("add group members: %w", err)
	}
	return nil
}

// RemoveGroupMembers removes users from a custom group.
func (c *Client) RemoveGroupMembers(ctx context.Context, groupID string, userIDs ...string) error {
	body := map[string][]string{"user_ids": userIDs}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/v4/groups/"+groupID+"/members", body, nil); err != nil {
		return fmt.Errorf("remove group members: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, reqBody, "application/json", result)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
