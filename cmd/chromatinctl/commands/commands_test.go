package commands

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"

	mw "github.com/jakub-figat/chromatin/internal/api/middleware"
	"github.com/jakub-figat/chromatin/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func memoryOpener(m *storetest.Memory) StoreOpener {
	return func(context.Context) (UserStore, func(), error) {
		return m, func() {}, nil
	}
}

func execute(t *testing.T, open StoreOpener, args ...string) (string, error) {
	t.Helper()
	cmd := NewUserCommand(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewAPIKey(t *testing.T) {
	raw, key, err := newAPIKey(3, "ci", []string{mw.ScopeWrite, mw.ScopeRead, mw.ScopeWrite})
	require.NoError(t, err)

	assert.Regexp(t, `^chr_[0-9a-f]{48}$`, raw)
	assert.Equal(t, raw[:mw.KeyPrefixLen], key.KeyPrefix)
	assert.Equal(t, int64(3), key.UserID)
	assert.Equal(t, "ci", key.Name)
	assert.Equal(t, []string{mw.ScopeRead, mw.ScopeWrite}, key.Scopes)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)))

	other, _, err := newAPIKey(3, "ci", nil)
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

func TestUserCreate_IssuesUsableKey(t *testing.T) {
	m := storetest.NewMemory()

	out, err := execute(t, memoryOpener(m), "create", "--email", "ada@example.com", "--scopes", "read")
	require.NoError(t, err)

	match := regexp.MustCompile(`API key: (chr_[0-9a-f]+)`).FindStringSubmatch(out)
	require.Len(t, match, 2, out)
	raw := match[1]

	keys, err := m.GetAPIKeyByPrefix(context.Background(), raw[:mw.KeyPrefixLen])
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, []string{mw.ScopeRead}, keys[0].Scopes)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(keys[0].KeyHash), []byte(raw)))

	user, err := m.EnsureUser(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, keys[0].UserID)
}

func TestUserCreate_ReusesExistingUser(t *testing.T) {
	m := storetest.NewMemory()
	existing, err := m.EnsureUser(context.Background(), "ada@example.com")
	require.NoError(t, err)

	out, err := execute(t, memoryOpener(m), "create", "-e", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "(id "+itoa(existing.ID)+")")
	assert.Contains(t, out, "Scopes:  read,write")
}

func TestUserCreate_Validation(t *testing.T) {
	opened := false
	open := func(context.Context) (UserStore, func(), error) {
		opened = true
		return storetest.NewMemory(), func() {}, nil
	}

	_, err := execute(t, open, "create")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--email is required")

	_, err = execute(t, open, "create", "--email", "a@b.c", "--scopes", "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown scope "admin"`)

	assert.False(t, opened)
}

func TestUserCreate_StoreError(t *testing.T) {
	open := func(context.Context) (UserStore, func(), error) {
		return nil, nil, errors.New("connection refused")
	}

	_, err := execute(t, open, "create", "--email", "a@b.c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMigrateDown_RequiresPositiveSteps(t *testing.T) {
	called := false
	cmd := NewMigrateCommand(func() (string, error) {
		called = true
		return "", nil
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"down", "--steps", "0"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--steps")
	assert.False(t, called)
}

func TestMigrate_ConfigError(t *testing.T) {
	cmd := NewMigrateCommand(func() (string, error) {
		return "", errors.New("load config: DATABASE_URL is required")
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"up"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
