package cart

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	c, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	theme, err := s.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, theme)

	c, _ = c.Add(ring)
	c, _ = c.Add(bead)
	c, _ = c.Add(ring)
	require.NoError(t, s.Save(ctx, c))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameItems(t, c.Items(), loaded.Items())

	require.NoError(t, s.SetTheme(ctx, ThemeDark))
	theme, err = s.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, theme)
	assert.Error(t, s.SetTheme(ctx, Theme("neon")))

	require.NoError(t, s.Clear(ctx))
	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.IsEmpty())

	theme, err = s.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, theme, "clearing the cart keeps the theme")
}

// assertSameItems compares prices numerically; "45.00" round-trips as "45"
func assertSameItems(t *testing.T, want, got []Item) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Price.Equal(got[i].Price), "price %d: %s != %s", i, want[i].Price, got[i].Price)
		w, g := want[i], got[i]
		w.Price, g.Price = decimal.Decimal{}, decimal.Decimal{}
		assert.Equal(t, w, g)
	}
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	storeContract(t, s)

	// a second instance sees the same data, like reopening the browser
	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	theme, err := s2.Theme(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, theme)
}

func TestFileStoreDiscardsCorruptCart(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"cart":"not json"}`), 0o600))

	c, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`garbage`), 0o600))

	_, err = s.Load(context.Background())
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "alice")
	t.Cleanup(func() { _ = s.Close() })

	storeContract(t, s)

	theme, err := mr.Get("tourmaline:alice:theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", theme)
	assert.False(t, mr.Exists("tourmaline:alice:cart"))
}

func TestThemeToggle(t *testing.T) {
	assert.Equal(t, ThemeDark, ThemeLight.Toggle())
	assert.Equal(t, ThemeLight, ThemeDark.Toggle())
}
