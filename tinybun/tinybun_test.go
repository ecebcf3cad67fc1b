package tinybun

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lemmego/tinyorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun"
)

// Test models with Bun tags
type TestAccount struct {
	bun.BaseModel `bun:"table:test_accounts"`

	ID     int64   `bun:"id,pk,autoincrement"`
	Email  string  `bun:"email,notnull,unique"`
	Name   string  `bun:"name,notnull"`
	Status string  `bun:"status,notnull,default:'active'"`
	Note   *string `bun:"note"`
}

type TestGrant struct {
	bun.BaseModel `bun:"table:test_grants"`

	AccountID int64  `bun:"account_id,pk"`
	Scope     string `bun:"scope,pk"`
	Level     int    `bun:"level,notnull"`
}

// Test suite
type BunAdapterTestSuite struct {
	suite.Suite
	provider *Provider
	db       *tinyorm.DB
	ctx      context.Context
}

func (suite *BunAdapterTestSuite) SetupSuite() {
	// Use SQLite for testing
	config := tinyorm.Config{
		Driver:   "sqlite",
		Database: ":memory:",
		LogLevel: "silent",
	}

	provider, err := Open(config)
	require.NoError(suite.T(), err)

	suite.provider = provider
	suite.db = provider.DB()
	suite.ctx = context.Background()

	require.NoError(suite.T(), provider.CreateTable(suite.ctx, (*TestAccount)(nil), (*TestGrant)(nil)))
}

func (suite *BunAdapterTestSuite) TearDownSuite() {
	if suite.provider != nil {
		suite.provider.Close()
	}
}

func (suite *BunAdapterTestSuite) SetupTest() {
	// Clean up tables before each test
	_, err := suite.db.Exec(suite.ctx, "DELETE FROM test_grants")
	require.NoError(suite.T(), err)
	_, err = suite.db.Exec(suite.ctx, "DELETE FROM test_accounts")
	require.NoError(suite.T(), err)
}

func (suite *BunAdapterTestSuite) createAccount(email, name string) *tinyorm.Row[TestAccount] {
	row, err := tinyorm.Insert[TestAccount](suite.db).
		Value("email", email).
		Value("name", name).
		ExecuteSelect(suite.ctx)
	require.NoError(suite.T(), err)
	return row
}

// =====================================
// Provider Tests
// =====================================

func (suite *BunAdapterTestSuite) TestProviderInfo() {
	assert.Equal(suite.T(), tinyorm.DialectSQLite, suite.db.Dialect())
	assert.Equal(suite.T(), "sqlite", suite.provider.Config().Driver)
	assert.NotNil(suite.T(), suite.provider.Bun())
	assert.NoError(suite.T(), suite.provider.Health(suite.ctx))
}

func (suite *BunAdapterTestSuite) TestRegisteredProvider() {
	assert.Contains(suite.T(), tinyorm.Providers(), ProviderName)

	db, err := tinyorm.Open(ProviderName, tinyorm.Config{Driver: "sqlite3", Database: ":memory:", LogLevel: "silent"})
	require.NoError(suite.T(), err)
	defer db.Close()
	assert.Equal(suite.T(), tinyorm.DialectSQLite, db.Dialect())
}

// =====================================
// Row Tests
// =====================================

func (suite *BunAdapterTestSuite) TestInsertDefaults() {
	row := suite.createAccount("john@example.com", "John")

	account := row.Entity()
	assert.NotZero(suite.T(), account.ID)
	assert.Equal(suite.T(), "active", account.Status)
	assert.Nil(suite.T(), account.Note)
}

func (suite *BunAdapterTestSuite) TestUpdateAndRefetch() {
	row := suite.createAccount("john@example.com", "John")

	err := row.Update().
		Set("name", "Johnny").
		ApplyFrom(map[string]interface{}{"status": "active", "note": "vip"}).
		Execute(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Johnny", row.Entity().Name)

	fresh, err := row.Refetch(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Johnny", fresh.Entity().Name)
	require.NotNil(suite.T(), fresh.Entity().Note)
	assert.Equal(suite.T(), "vip", *fresh.Entity().Note)
}

func (suite *BunAdapterTestSuite) TestDeleteTwice() {
	row := suite.createAccount("john@example.com", "John")

	require.NoError(suite.T(), row.Delete(suite.ctx))
	err := row.Delete(suite.ctx)
	assert.True(suite.T(), tinyorm.IsConsistency(err), "expected consistency error, got %v", err)

	_, err = row.Refetch(suite.ctx)
	assert.True(suite.T(), tinyorm.IsNotFound(err))
}

func (suite *BunAdapterTestSuite) TestDuplicateKeyError() {
	suite.createAccount("john@example.com", "John")

	_, err := tinyorm.Insert[TestAccount](suite.db).
		Value("email", "john@example.com").
		Value("name", "Other").
		Execute(suite.ctx)
	assert.True(suite.T(), tinyorm.IsExecution(err), "expected execution error, got %v", err)
}

func (suite *BunAdapterTestSuite) TestCompositeKey() {
	account := suite.createAccount("john@example.com", "John")

	grant, err := tinyorm.Insert[TestGrant](suite.db).
		Value("account_id", account.Entity().ID).
		Value("scope", "billing").
		Value("level", 2).
		ExecuteSelect(suite.ctx)
	require.NoError(suite.T(), err)

	where, err := grant.Where()
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), `("account_id"=?) AND ("scope"=?)`, where.SQL)

	require.NoError(suite.T(), grant.Update().Set("level", 3).Execute(suite.ctx))
	assert.Equal(suite.T(), 3, grant.Entity().Level)
}

// =====================================
// Query Tests
// =====================================

func (suite *BunAdapterTestSuite) TestSearchAndPage() {
	for i := 1; i <= 7; i++ {
		suite.createAccount(fmt.Sprintf("user%d@example.com", i), fmt.Sprintf("user%d", i))
	}

	rows, err := tinyorm.Search[TestAccount](suite.ctx, suite.db, "name LIKE ? ORDER BY id DESC", "user%")
	require.NoError(suite.T(), err)
	require.Len(suite.T(), rows, 7)
	assert.Equal(suite.T(), "user7", rows[0].Entity().Name)

	page, err := tinyorm.SearchWithPager[TestAccount](suite.db).OrderBy("id").Page(suite.ctx, 2, 3)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), page.Rows, 3)
	assert.Equal(suite.T(), "user4", page.Rows[0].Entity().Name)
	assert.True(suite.T(), page.HasNextPage)

	count, err := tinyorm.Select[TestAccount](suite.db).
		WhereCond("email", tinyorm.OpIn, []string{"user1@example.com", "user2@example.com"}).
		Count(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), count)
}

func (suite *BunAdapterTestSuite) TestBunReadsRows() {
	row := suite.createAccount("john@example.com", "John")

	var account TestAccount
	err := suite.provider.Bun().NewSelect().
		Model(&account).
		Where("id = ?", row.Entity().ID).
		Scan(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "John", account.Name)
}

// =====================================
// Transaction Tests
// =====================================

func (suite *BunAdapterTestSuite) TestTransaction() {
	err := suite.provider.RunInTx(suite.ctx, func(ctx context.Context, tx *tinyorm.DB) error {
		_, err := tinyorm.Insert[TestAccount](tx).Value("email", "a@example.com").Value("name", "A").Execute(ctx)
		if err != nil {
			return err
		}
		_, err = tinyorm.Insert[TestAccount](tx).Value("email", "b@example.com").Value("name", "B").Execute(ctx)
		return err
	})
	require.NoError(suite.T(), err)

	count, err := tinyorm.Select[TestAccount](suite.db).Count(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), count)
}

func (suite *BunAdapterTestSuite) TestTransactionRollback() {
	boom := errors.New("boom")
	err := suite.provider.RunInTx(suite.ctx, func(ctx context.Context, tx *tinyorm.DB) error {
		if _, err := tinyorm.Insert[TestAccount](tx).Value("email", "a@example.com").Value("name", "A").Execute(ctx); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(suite.T(), err, boom)

	count, err := tinyorm.Select[TestAccount](suite.db).Count(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), count)
}

// =====================================
// Configuration Tests
// =====================================

func TestBunProviderWithInvalidDriver(t *testing.T) {
	_, err := Open(tinyorm.Config{Driver: "oracle", Database: "x"})
	assert.True(t, tinyorm.IsErrorType(err, tinyorm.ErrorTypeUnsupported))

	_, err = Open(tinyorm.Config{Driver: "sqlite"})
	assert.True(t, tinyorm.IsValidation(err))
}

func TestIsMemorySQLite(t *testing.T) {
	assert.True(t, isMemorySQLite(tinyorm.Config{Driver: "sqlite3", Database: ":memory:"}))
	assert.True(t, isMemorySQLite(tinyorm.Config{Driver: "sqlite3", ConnectionURL: "file:test?mode=memory&cache=shared"}))
	assert.False(t, isMemorySQLite(tinyorm.Config{Driver: "sqlite3", Database: "/tmp/app.db"}))
	assert.False(t, isMemorySQLite(tinyorm.Config{Driver: "mysql", Database: ":memory:"}))
}

func TestBunAdapterSuite(t *testing.T) {
	suite.Run(t, new(BunAdapterTestSuite))
}

// =====================================
// Benchmarks
// =====================================

func BenchmarkInsertSelect(b *testing.B) {
	provider, err := Open(tinyorm.Config{Driver: "sqlite", Database: ":memory:", LogLevel: "silent"})
	require.NoError(b, err)
	defer provider.Close()

	ctx := context.Background()
	require.NoError(b, provider.CreateTable(ctx, (*TestAccount)(nil)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := tinyorm.Insert[TestAccount](provider.DB()).
			Value("email", fmt.Sprintf("bench%d@example.com", i)).
			Value("name", "bench").
			ExecuteSelect(ctx)
		if err != nil {
			b.Fatal(err)
		}
	}
}
