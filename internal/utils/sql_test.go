package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func Test_SQLNullString(t *testing.T) {
	got := SQLNullString("foo")
	assert.True(t, got.Valid)
	assert.Equal(t, "foo", got.String)

	got = SQLNullString("")
	assert.False(t, got.Valid)
}

func Test_SQLNullNumeric(t *testing.T) {
	got := SQLNullNumeric(decimal.RequireFromString("12.34"))
	assert.True(t, got.Valid)
	assert.Equal(t, "12.34", got.String)

	got = SQLNullNumeric(decimal.Zero)
	assert.False(t, got.Valid)
}

func Test_SQLNullTime(t *testing.T) {
	now := time.Now()
	got := SQLNullTime(now)
	assert.True(t, got.Valid)
	assert.Equal(t, now, got.Time)

	got = SQLNullTime(time.Time{})
	assert.False(t, got.Valid)
}
