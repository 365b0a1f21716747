package mattermost_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leave-bot/internal/mattermost"
	"leave-bot/internal/mattermost/mmtest"
)

func TestEnsureGroup_Idempotent(t *testing.T) {
	srv := mmtest.NewServer()
	defer srv.Close()
	c := srv.Client()
	ctx := context.Background()

	id, err := c.EnsureGroup(ctx, "leave-3-days", "Leave - 3 days")
	require.NoError(t, err)
	again, err := c.EnsureGroup(ctx, "leave-3-days", "Leave - 3 days")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// Search is a substring match; only the exact name counts.
	other, err := c.EnsureGroup(ctx, "leave-3", "Leave - 3")
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestGroupMembers(t *testing.T) {
	srv := mmtest.NewServer()
	defer srv.Close()
	srv.AddGroup("g1", "on-leave")
	c := srv.Client()
	ctx := context.Background()

	require.NoError(t, c.AddGroupMembers(ctx, "g1", "u1", "u2"))
	assert.True(t, srv.IsMember("g1", "u1"))
	require.NoError(t, c.RemoveGroupMembers(ctx, "g1", "u1"))
	assert.False(t, srv.IsMember("g1", "u1"))
	assert.True(t, srv.IsMember("g1", "u2"))

	err := c.AddGroupMembers(ctx, "missing", "u1")
	assert.True(t, mattermost.IsNotFound(err))
}

func TestSendDMAndFile(t *testing.T) {
	srv := mmtest.NewServer()
	defer srv.Close()
	c := srv.Client()
	ctx := context.Background()

	require.NoError(t, c.SendDM(ctx, "u1", "hello"))
	require.NoError(t, c.SendFileDM(ctx, "u1", "export", "leaves.csv", []byte("a,b\n")))

	dms := srv.DMs("u1")
	require.Len(t, dms, 2)
	assert.Equal(t, "hello", dms[0].Message)
	assert.Equal(t, "export", dms[1].Message)
	require.Len(t, dms[1].FileIDs, 1)

	f, ok := srv.File(dms[1].FileIDs[0])
	require.True(t, ok)
	assert.Equal(t, "leaves.csv", f.Name)
	assert.Equal(t, mmtest.DMChannel("u1"), f.ChannelID)
	assert.Equal(t, "a,b\n", string(f.Data))
}

func TestSendEphemeral(t *testing.T) {
	srv := mmtest.NewServer()
	defer srv.Close()
	c := srv.Client()

	require.NoError(t, c.SendEphemeral(context.Background(), "u1", "ch1", "only you"))
	got := srv.Ephemerals("u1")
	require.Len(t, got, 1)
	assert.Equal(t, "ch1", got[0].ChannelID)
	assert.Equal(t, "only you", got[0].Message)
}

func TestUsers(t *testing.T) {
	srv := mmtest.NewServer()
	defer srv.Close()
	srv.AddUser("u1", "alice", "system_user system_admin")
	c := srv.Client()
	ctx := context.Background()

	u, err := c.GetUserByUsername(ctx, "@alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.True(t, u.HasRole("system_admin"))
	assert.Equal(t, []string{"system_user", "system_admin"}, u.RoleList())

	_, err = c.GetUser(ctx, "nobody")
	require.Error(t, err)
	assert.True(t, mattermost.IsNotFound(err))

	botID, err := c.BotUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, mmtest.BotUserID, botID)

	srv.Fail(http.MethodGet, "/api/v4/users/me", http.StatusInternalServerError)
	cached, err := c.BotUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, botID, cached)
}

func TestUpdatePostAndPermalink(t *testing.T) {
	srv := mmtest.NewServer()
	defer srv.Close()
	c := srv.Client()
	ctx := context.Background()

	p, err := c.CreatePost(ctx, &mattermost.Post{ChannelID: "review", Message: "pending"})
	require.NoError(t, err)
	_, err = c.UpdatePost(ctx, p.ID, &mattermost.Post{ChannelID: "review", Message: "approved"})
	require.NoError(t, err)

	got, ok := srv.Post(p.ID)
	require.True(t, ok)
	assert.Equal(t, "approved", got.Message)
	assert.Equal(t, srv.URL+"/_redirect/pl/"+p.ID, c.Permalink(p.ID))

	srv.Fail(http.MethodPost, "/api/v4/posts", http.StatusForbidden)
	_, err = c.CreatePost(ctx, &mattermost.Post{ChannelID: "review"})
	var apiErr *mattermost.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}
