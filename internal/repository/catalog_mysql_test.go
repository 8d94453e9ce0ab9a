package repository

import (
	"context"
	"testing"

	"autodelivery-api/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLProductCatalog_GetProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("returns usage guide", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`FROM products`).
			WithArgs("prod-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "delivery_mode", "usage_guide"}).
				AddRow("prod-1", "seller-1", "auto_license", "Redeem at example.com/redeem"))

		info, err := NewMySQLProductCatalog(db).GetProduct(ctx, "prod-1")
		require.NoError(t, err)
		assert.Equal(t, "seller-1", info.SellerID)
		assert.Equal(t, model.DeliveryModeAutoLicense, info.DeliveryMode)
		assert.Equal(t, "Redeem at example.com/redeem", info.UsageGuide)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown product", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`FROM products`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "delivery_mode", "usage_guide"}))

		_, err = NewMySQLProductCatalog(db).GetProduct(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
