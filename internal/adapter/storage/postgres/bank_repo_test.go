package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBankRepo_GetByName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBankRepo(mock)

	mock.ExpectQuery("SELECT name, bank_id FROM banks WHERE lower\\(name\\)").
		WithArgs("Tinkoff").
		WillReturnRows(pgxmock.NewRows([]string{"name", "bank_id"}).AddRow("Tinkoff", "100000000004"))

	bank, err := repo.GetByName(context.Background(), "Tinkoff")
	require.NoError(t, err)
	require.NotNil(t, bank)
	assert.Equal(t, "100000000004", bank.BankID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBankRepo_GetByName_Unknown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBankRepo(mock)

	mock.ExpectQuery("SELECT name, bank_id FROM banks").
		WithArgs("Nowhere Bank").
		WillReturnError(pgx.ErrNoRows)

	bank, err := repo.GetByName(context.Background(), "Nowhere Bank")
	assert.NoError(t, err)
	assert.Nil(t, bank)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBankRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBankRepo(mock)

	mock.ExpectQuery("SELECT name, bank_id FROM banks ORDER BY name").
		WillReturnRows(pgxmock.NewRows([]string{"name", "bank_id"}).
			AddRow("Alfa", "100000000008").
			AddRow("Sber", "100000000111"))

	banks, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, banks, 2)
	assert.Equal(t, "Alfa", banks[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}
