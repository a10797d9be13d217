package providers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSpotTableBoundsPagination(t *testing.T) {
	// The feed keeps promising more rows than it ever delivers; the pager
	// must give up instead of looping forever.
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"data":{"total":1000000,"diff":[
			{"f2":10.5,"f12":"600000","f14":"浦发银行"},
			{"f2":12.3,"f12":"000001","f14":"平安银行"}
		]}}`)
	}))
	defer srv.Close()

	p := NewEastmoney(nil, time.Second, time.Minute, zerolog.Nop())
	p.spotBase = srv.URL

	rows, err := p.FetchSpotTable()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(20), requests.Load())
	assert.Equal(t, "浦发银行", rows["600000"].Name)
}

func TestFetchSpotTableStopsWhenComplete(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"data":{"total":1,"diff":[
			{"f2":10.5,"f12":"600000","f14":"浦发银行"}
		]}}`)
	}))
	defer srv.Close()

	p := NewEastmoney(nil, time.Second, time.Minute, zerolog.Nop())
	p.spotBase = srv.URL

	rows, err := p.FetchSpotTable()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int32(1), requests.Load())
}
