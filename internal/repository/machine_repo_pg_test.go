package repository

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
)

func TestNewMachineRepository(t *testing.T) {
	pool := &pgxpool.Pool{}
	repo := NewMachineRepository(pool)
	assert.NotNil(t, repo)
}

func TestNewTransactionRepository(t *testing.T) {
	repo := NewTransactionRepository(&pgxpool.Pool{})
	assert.NotNil(t, repo)
}

func TestNewReviewRepository(t *testing.T) {
	repo := NewReviewRepository(&pgxpool.Pool{})
	assert.NotNil(t, repo)
}
