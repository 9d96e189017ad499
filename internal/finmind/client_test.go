package finmind

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return NewClient("", zerolog.Nop())
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 200, statusCode(float64(200)))
	assert.Equal(t, 200, statusCode("200"))
	assert.Equal(t, 402, statusCode("402"))
	assert.Equal(t, 0, statusCode(nil))
	assert.Equal(t, 0, statusCode(true))
}

func TestLatch_QuotaImmediatelyDisables(t *testing.T) {
	c := testClient()
	require.True(t, c.Available())

	c.latch("quota exceeded")
	assert.False(t, c.Available())

	// Latching is one-way for the run.
	c.recordSuccess()
	assert.False(t, c.Available())
}

func TestLatch_ThreeConsecutiveFailures(t *testing.T) {
	c := testClient()

	c.recordFailure()
	c.recordFailure()
	assert.True(t, c.Available(), "two failures are tolerated")

	c.recordFailure()
	assert.False(t, c.Available(), "third consecutive failure latches")
}

func TestFailureCountResetsOnSuccess(t *testing.T) {
	c := testClient()

	c.recordFailure()
	c.recordFailure()
	c.recordSuccess()
	c.recordFailure()
	c.recordFailure()
	assert.True(t, c.Available(), "non-consecutive failures do not latch")
}

func TestQuery_ReturnsErrUnavailableOnceLatched(t *testing.T) {
	c := testClient()
	c.latch("test")

	rows, err := c.Query("TaiwanStockPrice", "2330", "2026-01-01", "2026-02-01")
	assert.Nil(t, rows)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRowHelpers(t *testing.T) {
	row := map[string]interface{}{
		"date":  "2026-01-02",
		"close": 604.0,
		"buy":   "12345",
	}
	assert.Equal(t, "2026-01-02", rowString(row, "date"))
	assert.Equal(t, "", rowString(row, "missing"))
	assert.Equal(t, 604.0, rowFloat(row, "close"))
	assert.Equal(t, 12345.0, rowFloat(row, "buy"), "string numbers are parsed")
	assert.Equal(t, 0.0, rowFloat(row, "missing"))
}
