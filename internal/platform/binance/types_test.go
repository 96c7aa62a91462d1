package binance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func TestParseTickerBatch(t *testing.T) {
	testCases := []struct {
		name        string
		raw         string
		wantErr     bool
		wantSymbols []string
		wantDropped int
	}{
		{
			name:        "valid batch",
			raw:         `[{"s":"BTCUSDT","c":"65000.10","o":"64000","h":"66000","l":"63000","v":"1234.5"},{"s":"ETHUSDT","c":"3000"}]`,
			wantSymbols: []string{"BTCUSDT", "ETHUSDT"},
		},
		{
			name:        "drops records without symbol",
			raw:         `[{"c":"1"},{"s":"BNBUSDT","c":"500"}]`,
			wantSymbols: []string{"BNBUSDT"},
			wantDropped: 1,
		},
		{
			name:        "drops records with non-decimal fields",
			raw:         `[{"s":"BTCUSDT","c":"abc"},{"s":"XRPUSDT","c":"0.5","v":"1e"}]`,
			wantSymbols: []string{},
			wantDropped: 2,
		},
		{
			name:        "drops records of the wrong shape",
			raw:         `[1,"x",{"s":"SOLUSDT","c":"150"}]`,
			wantSymbols: []string{"SOLUSDT"},
			wantDropped: 2,
		},
		{
			name:    "object frame",
			raw:     `{"s":"BTCUSDT","c":"1"}`,
			wantErr: true,
		},
		{
			name:    "garbage",
			raw:     `not json`,
			wantErr: true,
		},
		{
			name:    "truncated array",
			raw:     `[{"s":"BTCUSDT"`,
			wantErr: true,
		},
		{
			name:    "empty frame",
			raw:     ``,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tickers, dropped, err := ParseTickerBatch([]byte(tc.raw))
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrMalformedMessage))
				return
			}
			require.NoError(t, err)
			symbols := []string{}
			for _, tk := range tickers {
				symbols = append(symbols, tk.Symbol)
			}
			assert.Equal(t, tc.wantSymbols, symbols)
			assert.Equal(t, tc.wantDropped, dropped)
		})
	}
}

func TestTickerDetails(t *testing.T) {
	tickers, _, err := ParseTickerBatch([]byte(`[{"s":"BTCUSDT","c":"10","o":"9","h":"11","l":"8","v":"100"}]`))
	require.NoError(t, err)
	require.Len(t, tickers, 1)

	assert.Equal(t, domain.MarketDetails{
		Open:   "9",
		High:   "11",
		Low:    "8",
		Close:  "10",
		Volume: "100",
	}, tickers[0].Details())
}
