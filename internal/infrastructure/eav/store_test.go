package eav

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/magebridge/connector/internal/domain/integration"
)

func newMockStore(t *testing.T, policy Policy) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create sqlmock")
	t.Cleanup(func() { mockDB.Close() })

	dialector := mysql.New(mysql.Config{
		Conn:                      mockDB,
		SkipInitializeWithVersion: true,
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "Failed to open gorm over sqlmock")

	return NewStore(gormDB, NewMetadataCache(), zap.NewNop(), policy), mock
}

// warmCustomerMeta seeds the cache so tests exercise data queries only.
func warmCustomerMeta(s *Store) *EntityTypeMeta {
	meta := &EntityTypeMeta{ID: 1, Code: "customer", EntityTable: "customer_entity"}
	s.cache.putEntityType(meta)
	s.cache.putAttribute(&Attribute{
		ID: 10, EntityTypeID: 1, Code: "email",
		BackendType: "static", FrontendInput: "text",
	})
	s.cache.putAttribute(&Attribute{
		ID: 11, EntityTypeID: 1, Code: "firstname",
		BackendType: "varchar", FrontendInput: "text",
	})
	s.cache.putAttribute(&Attribute{
		ID: 12, EntityTypeID: 1, Code: "group",
		BackendType: "int", FrontendInput: "select",
	})
	return meta
}

func TestStoreLoadEntitiesMergesScopes(t *testing.T) {
	store, mock := newMockStore(t, PolicyStrict)
	warmCustomerMeta(store)
	ctx := context.Background()

	mock.ExpectQuery("SELECT \\* FROM `customer_entity` WHERE entity_id IN").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "email"}).
			AddRow(int64(7), "jane@example.com"))
	// default scope first, then the requested scope overriding it
	mock.ExpectQuery("SELECT entity_id, attribute_id, value FROM `customer_entity_varchar`").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "attribute_id", "value"}).
			AddRow(int64(7), int64(11), "Default Name"))
	mock.ExpectQuery("SELECT entity_id, attribute_id, value FROM `customer_entity_varchar`").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "attribute_id", "value"}).
			AddRow(int64(7), int64(11), "Scoped Name"))

	records, err := store.LoadEntities(ctx, "customer", []int64{7}, 5, []string{"email", "firstname"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, int64(7), records[0].EntityID)
	assert.Equal(t, "jane@example.com", records[0].Values["email"])
	assert.Equal(t, "Scoped Name", records[0].Values["firstname"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoadEntitiesDefaultScopeReadsOnce(t *testing.T) {
	store, mock := newMockStore(t, PolicyStrict)
	warmCustomerMeta(store)

	mock.ExpectQuery("SELECT \\* FROM `customer_entity` WHERE entity_id IN").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).AddRow(int64(7)))
	mock.ExpectQuery("SELECT entity_id, attribute_id, value FROM `customer_entity_varchar`").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "attribute_id", "value"}).
			AddRow(int64(7), int64(11), "Default Name"))

	records, err := store.LoadEntities(context.Background(), "customer", []int64{7}, 0, []string{"firstname"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "Default Name", records[0].Values["firstname"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoadEntitiesTranslatesOptions(t *testing.T) {
	store, mock := newMockStore(t, PolicyStrict)
	warmCustomerMeta(store)

	mock.ExpectQuery("SELECT \\* FROM `customer_entity` WHERE entity_id IN").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).
			AddRow(int64(7)).
			AddRow(int64(8)))
	mock.ExpectQuery("SELECT entity_id, attribute_id, value FROM `customer_entity_int`").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "attribute_id", "value"}).
			AddRow(int64(7), int64(12), "3").
			AddRow(int64(8), int64(12), "99"))
	mock.ExpectQuery("SELECT entity_id, attribute_id, value FROM `customer_entity_int`").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "attribute_id", "value"}))
	mock.ExpectQuery("SELECT o.attribute_id, v.option_id, v.store_id, v.value FROM `eav_attribute_option_value`").
		WillReturnRows(sqlmock.NewRows([]string{"attribute_id", "option_id", "store_id", "value"}).
			AddRow(int64(12), int64(3), 0, "General").
			AddRow(int64(12), int64(3), 5, "Wholesale"))

	records, err := store.LoadEntities(context.Background(), "customer", nil, 5, []string{"group"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	// the store-scoped label wins over the default label
	assert.Equal(t, "Wholesale", records[0].Values["group"])
	// no option row for id 99: the raw value passes through
	assert.Equal(t, "99", records[1].Values["group"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoadEntitiesStrictRejectsUnknownAttribute(t *testing.T) {
	store, mock := newMockStore(t, PolicyStrict)
	warmCustomerMeta(store)

	mock.ExpectQuery("SELECT \\* FROM `eav_attribute`").
		WillReturnRows(sqlmock.NewRows([]string{
			"attribute_id", "entity_type_id", "attribute_code", "backend_type", "backend_table", "frontend_input",
		}))

	_, err := store.LoadEntities(context.Background(), "customer", []int64{7}, 0, []string{"no_such_code"})
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrUnknownAttribute)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoadEntitiesLenientSkipsUnknownAttribute(t *testing.T) {
	store, mock := newMockStore(t, PolicyLenient)
	warmCustomerMeta(store)

	mock.ExpectQuery("SELECT \\* FROM `eav_attribute`").
		WillReturnRows(sqlmock.NewRows([]string{
			"attribute_id", "entity_type_id", "attribute_code", "backend_type", "backend_table", "frontend_input",
		}))
	mock.ExpectQuery("SELECT \\* FROM `customer_entity` WHERE entity_id IN").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "email"}).
			AddRow(int64(7), "jane@example.com"))

	records, err := store.LoadEntities(context.Background(), "customer", []int64{7}, 0, []string{"email", "no_such_code"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "jane@example.com", records[0].Values["email"])
	_, present := records[0].Values["no_such_code"]
	assert.False(t, present)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpdateEntityUpsertsScopedValue(t *testing.T) {
	store, mock := newMockStore(t, PolicyStrict)
	warmCustomerMeta(store)

	mock.ExpectBegin()
	// no default row yet: one is materialized before the scoped write
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `customer_entity_varchar`").
		WithArgs(int64(7), int64(11), 0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `customer_entity_varchar`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `customer_entity_varchar`").
		WithArgs(int64(7), int64(11), 5).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("UPDATE `customer_entity_varchar` SET `value`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := store.UpdateEntity(context.Background(), "customer", 7, 5, map[string]any{
		"firstname": "Jane",
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpdateEntityRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t, PolicyStrict)
	warmCustomerMeta(store)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `customer_entity` SET `email`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `customer_entity_varchar`").
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	changed, err := store.UpdateEntity(context.Background(), "customer", 7, 0, map[string]any{
		"email":     "jane@example.com",
		"firstname": "Jane",
	})
	require.Error(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpdateEntityReportsUnchanged(t *testing.T) {
	store, mock := newMockStore(t, PolicyStrict)
	warmCustomerMeta(store)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `customer_entity_varchar`").
		WithArgs(int64(7), int64(11), 0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("UPDATE `customer_entity_varchar` SET `value`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	changed, err := store.UpdateEntity(context.Background(), "customer", 7, 0, map[string]any{
		"firstname": "Jane",
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
